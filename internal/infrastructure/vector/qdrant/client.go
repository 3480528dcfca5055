// Package qdrant is the remote alternative to the in-process vector index,
// for deployments whose sessions outgrow memory.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkorsak/docqa/internal/core/domain"
)

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// AddChunks upserts one point per chunk. Point IDs derive from the chunk ID
// so re-indexing a document overwrites instead of duplicating.
func (c *Client) AddChunks(ctx context.Context, sessionID string, chunks []domain.Chunk, embeddings [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(embeddings) {
		return domain.WrapError(domain.ErrEmbeddingMismatch, "qdrant upsert",
			fmt.Errorf("%d chunks, %d embeddings", len(chunks), len(embeddings)))
	}

	if err := c.ensureCollection(ctx, len(embeddings[0])); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}
	points := make([]point, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, point{
			ID:     uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunk.ID)).String(),
			Vector: embeddings[i],
			Payload: map[string]any{
				"chunk_id":       chunk.ID,
				"document_id":    chunk.DocumentID,
				"session_id":     chunk.SessionID,
				"group":          chunk.Group,
				"source_name":    chunk.SourceName,
				"sequence_index": chunk.SequenceIndex,
				"text":           chunk.Text,
			},
		})
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	return c.do(ctx, http.MethodPut, url, map[string]any{"points": points}, nil, "upsert")
}

// SearchVector returns the session's nearest chunks with cosine similarity
// mapped onto [0,1].
func (c *Client) SearchVector(
	ctx context.Context,
	sessionID string,
	queryVector []float32,
	topK int,
	filter domain.SearchFilter,
) ([]domain.Candidate, error) {
	must := []map[string]any{
		{"key": "session_id", "match": map[string]any{"value": sessionID}},
	}
	if filter.Group != "" {
		must = append(must, map[string]any{
			"key": "group", "match": map[string]any{"value": filter.Group},
		})
	}
	request := map[string]any{
		"vector":       queryVector,
		"limit":        topK,
		"with_payload": true,
		"filter":       map[string]any{"must": must},
	}

	var response struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.do(ctx, http.MethodPost, url, request, &response, "search"); err != nil {
		return nil, err
	}

	out := make([]domain.Candidate, 0, len(response.Result))
	for _, r := range response.Result {
		score := (r.Score + 1) / 2
		out = append(out, domain.Candidate{
			ChunkID:       payloadString(r.Payload, "chunk_id"),
			DocumentID:    payloadString(r.Payload, "document_id"),
			SourceName:    payloadString(r.Payload, "source_name"),
			Group:         payloadString(r.Payload, "group"),
			SequenceIndex: payloadInt(r.Payload, "sequence_index"),
			Text:          payloadString(r.Payload, "text"),
			VectorScore:   score,
		})
	}
	return out, nil
}

// Clear removes every point belonging to the session.
func (c *Client) Clear(ctx context.Context, sessionID string) error {
	request := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "session_id", "match": map[string]any{"value": sessionID}},
			},
		},
	}
	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.baseURL, c.collection)
	return c.do(ctx, http.MethodPost, url, request, nil, "delete")
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	done := c.ensuredCollection && c.ensuredVectorSize == vectorSize
	c.ensureMu.Unlock()
	if done {
		return nil
	}

	request := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	err := c.do(ctx, http.MethodPut, url, request, nil, "ensure collection")
	if err != nil {
		// 409 means another instance created it first.
		var statusErr *statusError
		if !errors.As(err, &statusErr) || statusErr.code != http.StatusConflict {
			return err
		}
	}

	c.ensureMu.Lock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	c.ensureMu.Unlock()
	return nil
}

type statusError struct {
	operation string
	status    string
	code      int
	body      string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("qdrant %s status: %s", e.operation, e.status)
	}
	return fmt.Sprintf("qdrant %s status: %s: %s", e.operation, e.status, e.body)
}

func (c *Client) do(ctx context.Context, method, url string, payload, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{
			operation: operation,
			status:    resp.Status,
			code:      resp.StatusCode,
			body:      strings.TrimSpace(string(raw)),
		}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", operation, err)
		}
	}
	return nil
}

func payloadString(payload map[string]any, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

func payloadInt(payload map[string]any, key string) int {
	if f, ok := payload[key].(float64); ok {
		return int(f)
	}
	return 0
}
