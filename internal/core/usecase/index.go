package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dkorsak/docqa/internal/core/domain"
	"github.com/dkorsak/docqa/internal/core/ports"
)

// IndexMetrics is the observability hook for document indexing.
type IndexMetrics interface {
	DocumentIndexed(status string, chunks int, duration time.Duration)
}

type noopIndexMetrics struct{}

func (noopIndexMetrics) DocumentIndexed(string, int, time.Duration) {}

// IndexUseCase chunks, embeds and indexes documents into their session's
// index. Failures are reported per document: one bad document of N leaves
// the other N-1 indexed.
type IndexUseCase struct {
	chunker       ports.Chunker
	embedder      ports.Embedder
	writer        ports.IndexWriter
	repo          ports.DocumentRepository
	conversations ports.ConversationStore
	queue         ports.MessageQueue
	metrics       IndexMetrics
}

func NewIndexUseCase(
	chunker ports.Chunker,
	embedder ports.Embedder,
	writer ports.IndexWriter,
	repo ports.DocumentRepository,
	conversations ports.ConversationStore,
	queue ports.MessageQueue,
	metrics IndexMetrics,
) *IndexUseCase {
	if metrics == nil {
		metrics = noopIndexMetrics{}
	}
	return &IndexUseCase{
		chunker:       chunker,
		embedder:      embedder,
		writer:        writer,
		repo:          repo,
		conversations: conversations,
		queue:         queue,
		metrics:       metrics,
	}
}

func (uc *IndexUseCase) Index(
	ctx context.Context,
	sessionID string,
	docs []domain.DocumentInput,
) (*domain.IndexReport, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "index", fmt.Errorf("session id is required"))
	}
	if len(docs) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "index", fmt.Errorf("at least one document is required"))
	}

	report := &domain.IndexReport{SessionID: sessionID}
	for _, input := range docs {
		start := time.Now()
		doc, chunks, err := uc.indexOne(ctx, sessionID, input)
		if err != nil {
			report.Errors = append(report.Errors, domain.DocumentError{
				SourceName: input.SourceName,
				DocumentID: docIDOrEmpty(doc),
				Reason:     err.Error(),
			})
			uc.metrics.DocumentIndexed("error", 0, time.Since(start))
			continue
		}
		report.ChunksIndexed += chunks
		uc.metrics.DocumentIndexed("success", chunks, time.Since(start))
	}
	return report, nil
}

// indexOne runs chunk -> embed -> add for a single document. The document
// record is persisted first so the worker can re-index it later from text.
func (uc *IndexUseCase) indexOne(
	ctx context.Context,
	sessionID string,
	input domain.DocumentInput,
) (*domain.Document, int, error) {
	now := time.Now().UTC()
	doc := &domain.Document{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Group:      input.Group,
		SourceName: input.SourceName,
		Text:       input.Text,
		Status:     domain.StatusIndexing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	chunks, err := uc.chunkDocument(doc)
	if err != nil {
		return doc, 0, err
	}

	if uc.repo != nil {
		if err := uc.repo.Create(ctx, doc); err != nil {
			return doc, 0, fmt.Errorf("persist document: %w", err)
		}
	}

	if err := uc.embedAndWrite(ctx, sessionID, chunks); err != nil {
		uc.markStatus(ctx, doc.ID, domain.StatusFailed, 0, err.Error())
		uc.requestReindex(ctx, doc.ID, err)
		return doc, 0, err
	}

	uc.markStatus(ctx, doc.ID, domain.StatusIndexed, len(chunks), "")
	return doc, len(chunks), nil
}

// requestReindex hands a persisted document whose indexing failed transiently
// to the worker for an asynchronous retry. Permanent failures stay failed;
// replaying them would loop.
func (uc *IndexUseCase) requestReindex(ctx context.Context, documentID string, cause error) {
	if uc.queue == nil || uc.repo == nil || !domain.IsKind(cause, domain.ErrTemporary) {
		return
	}
	if err := uc.queue.PublishIndexRequested(ctx, documentID); err != nil {
		slog.Warn("reindex_request_publish_failed", "document_id", documentID, "error", err)
	}
}

// ReindexDocument rebuilds a persisted document's chunks into the registry,
// e.g. after a restart. Both sub-indexes are reconstructed purely from the
// stored text.
func (uc *IndexUseCase) ReindexDocument(ctx context.Context, documentID string) error {
	if uc.repo == nil {
		return fmt.Errorf("reindex: no document repository configured")
	}
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	chunks, err := uc.chunkDocument(doc)
	if err != nil {
		return err
	}
	if err := uc.embedAndWrite(ctx, doc.SessionID, chunks); err != nil {
		uc.markStatus(ctx, doc.ID, domain.StatusFailed, 0, err.Error())
		return err
	}
	uc.markStatus(ctx, doc.ID, domain.StatusIndexed, len(chunks), "")
	return nil
}

// ClearSession tears the session down: index, persisted documents and
// conversation turns.
func (uc *IndexUseCase) ClearSession(ctx context.Context, sessionID string) error {
	if err := uc.writer.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("clear session index: %w", err)
	}
	if uc.repo != nil {
		if _, err := uc.repo.DeleteBySession(ctx, sessionID); err != nil {
			return fmt.Errorf("delete session documents: %w", err)
		}
	}
	if uc.conversations != nil {
		if err := uc.conversations.DeleteBySession(ctx, sessionID); err != nil {
			return fmt.Errorf("delete session conversation: %w", err)
		}
	}
	return nil
}

func (uc *IndexUseCase) chunkDocument(doc *domain.Document) ([]domain.Chunk, error) {
	chunks, err := uc.chunker.Split(doc.Text)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		chunks[i].ID = fmt.Sprintf("%s:%d", doc.ID, chunks[i].SequenceIndex)
		chunks[i].DocumentID = doc.ID
		chunks[i].SessionID = doc.SessionID
		chunks[i].Group = doc.Group
		chunks[i].SourceName = doc.SourceName
	}
	return chunks, nil
}

func (uc *IndexUseCase) embedAndWrite(ctx context.Context, sessionID string, chunks []domain.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	return uc.writer.AddChunks(ctx, sessionID, chunks, embeddings)
}

func (uc *IndexUseCase) markStatus(ctx context.Context, documentID string, status domain.DocumentStatus, chunkCount int, errMessage string) {
	if uc.repo == nil {
		return
	}
	// Status bookkeeping must not fail the batch.
	_ = uc.repo.UpdateStatus(ctx, documentID, status, chunkCount, errMessage)
}

func docIDOrEmpty(doc *domain.Document) string {
	if doc == nil {
		return ""
	}
	return doc.ID
}
