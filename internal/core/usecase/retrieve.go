package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dkorsak/docqa/internal/core/domain"
	"github.com/dkorsak/docqa/internal/core/ports"
)

const (
	backendVector  = "vector"
	backendLexical = "lexical"
)

// RetrieverConfig carries tuning defaults, not architecture: the weights and
// top-k are plain configuration knobs.
type RetrieverConfig struct {
	VectorWeight   float64
	LexicalWeight  float64
	TopK           int
	BackendTimeout time.Duration
	CacheTTL       time.Duration
}

func (c RetrieverConfig) normalize() RetrieverConfig {
	out := c
	if out.VectorWeight <= 0 && out.LexicalWeight <= 0 {
		out.VectorWeight, out.LexicalWeight = 0.7, 0.3
	}
	if out.TopK <= 0 {
		out.TopK = 16
	}
	if out.BackendTimeout <= 0 {
		out.BackendTimeout = 300 * time.Millisecond
	}
	if out.CacheTTL <= 0 {
		out.CacheTTL = 5 * time.Minute
	}
	return out
}

// RetrievalMetrics is the observability hook for backend degradations.
type RetrievalMetrics interface {
	BackendFailure(backend string)
}

type noopRetrievalMetrics struct{}

func (noopRetrievalMetrics) BackendFailure(string) {}

// HybridRetriever fans a retrieval query out to the vector and lexical
// backends concurrently, merges their normalized scores under the configured
// weights and returns a ranked, deduplicated candidate list. One failed
// backend degrades the result; only both failing is an error.
type HybridRetriever struct {
	embedder ports.Embedder
	cache    ports.EmbeddingCache
	vector   ports.VectorSearcher
	lexical  ports.LexicalSearcher
	metrics  RetrievalMetrics
	cfg      RetrieverConfig
}

func NewHybridRetriever(
	embedder ports.Embedder,
	cache ports.EmbeddingCache,
	vector ports.VectorSearcher,
	lexical ports.LexicalSearcher,
	metrics RetrievalMetrics,
	cfg RetrieverConfig,
) *HybridRetriever {
	if metrics == nil {
		metrics = noopRetrievalMetrics{}
	}
	return &HybridRetriever{
		embedder: embedder,
		cache:    cache,
		vector:   vector,
		lexical:  lexical,
		metrics:  metrics,
		cfg:      cfg.normalize(),
	}
}

type backendResult struct {
	backend    string
	candidates []domain.Candidate
	err        error
}

// Retrieve runs both backends for the query. The degraded flag is true when
// exactly one backend contributed; both failing yields ErrRetrieval.
func (r *HybridRetriever) Retrieve(
	ctx context.Context,
	sessionID, query string,
	filter domain.SearchFilter,
) ([]domain.Candidate, bool, error) {
	results := make(chan backendResult, 2)

	go func() {
		backendCtx, cancel := context.WithTimeout(ctx, r.cfg.BackendTimeout)
		defer cancel()
		candidates, err := r.searchVector(backendCtx, sessionID, query, filter)
		results <- backendResult{backend: backendVector, candidates: candidates, err: err}
	}()
	go func() {
		backendCtx, cancel := context.WithTimeout(ctx, r.cfg.BackendTimeout)
		defer cancel()
		candidates, err := r.lexical.SearchLexical(backendCtx, sessionID, query, r.cfg.TopK, filter)
		results <- backendResult{backend: backendLexical, candidates: candidates, err: err}
	}()

	var vector, lexical []domain.Candidate
	var vectorErr, lexicalErr error
	for i := 0; i < 2; i++ {
		res := <-results
		if res.err != nil {
			slog.Warn("retrieval_backend_degraded", "backend", res.backend, "session_id", sessionID, "error", res.err)
			r.metrics.BackendFailure(res.backend)
		}
		switch res.backend {
		case backendVector:
			vector, vectorErr = res.candidates, res.err
		case backendLexical:
			lexical, lexicalErr = res.candidates, res.err
		}
	}

	if vectorErr != nil && lexicalErr != nil {
		return nil, false, domain.WrapError(
			domain.ErrRetrieval,
			"hybrid retrieve",
			fmt.Errorf("vector: %v; lexical: %w", vectorErr, lexicalErr),
		)
	}

	degraded := vectorErr != nil || lexicalErr != nil
	return r.merge(vector, lexical), degraded, nil
}

// searchVector embeds the query (through the TTL cache) and hands the vector
// to the semantic backend. An embedding failure counts as a vector backend
// failure.
func (r *HybridRetriever) searchVector(
	ctx context.Context,
	sessionID, query string,
	filter domain.SearchFilter,
) ([]domain.Candidate, error) {
	queryVector, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return r.vector.SearchVector(ctx, sessionID, queryVector, r.cfg.TopK, filter)
}

func (r *HybridRetriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if r.cache != nil {
		if vector, ok, err := r.cache.Get(ctx, query); err == nil && ok {
			return vector, nil
		} else if err != nil {
			slog.Debug("embedding_cache_miss", "reason", "cache_error", "error", err)
		}
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		if err := r.cache.Set(ctx, query, vector, r.cfg.CacheTTL); err != nil {
			slog.Debug("embedding_cache_set_failed", "error", err)
		}
	}
	return vector, nil
}

// merge combines both result sets per chunk id. A chunk missing from one
// backend contributes 0 for that term, not a penalty, so the outcome does not
// depend on which backend finished first.
func (r *HybridRetriever) merge(vector, lexical []domain.Candidate) []domain.Candidate {
	acc := make(map[string]domain.Candidate, len(vector)+len(lexical))
	for _, c := range vector {
		acc[c.ChunkID] = c
	}
	for _, c := range lexical {
		if existing, ok := acc[c.ChunkID]; ok {
			existing.LexicalScore = c.LexicalScore
			acc[c.ChunkID] = existing
			continue
		}
		acc[c.ChunkID] = c
	}

	out := make([]domain.Candidate, 0, len(acc))
	for _, c := range acc {
		c.HybridScore = r.cfg.VectorWeight*c.VectorScore + r.cfg.LexicalWeight*c.LexicalScore
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].HybridScore != out[j].HybridScore {
			return out[i].HybridScore > out[j].HybridScore
		}
		if out[i].SequenceIndex != out[j].SequenceIndex {
			return out[i].SequenceIndex < out[j].SequenceIndex
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if len(out) > r.cfg.TopK {
		out = out[:r.cfg.TopK]
	}
	return out
}
