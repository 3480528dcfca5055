package ports

import (
	"context"
	"time"

	"github.com/dkorsak/docqa/internal/core/domain"
)

// Chunker splits extracted document text into bounded overlapping chunks.
// Returned chunks carry text, sequence index and rune offsets; identity
// fields are filled in by the caller.
type Chunker interface {
	Split(text string) ([]domain.Chunk, error)
}

// Embedder builds fixed-dimension vectors for chunk batches and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ChatCompleter produces text from a prompt under a length/temperature budget.
type ChatCompleter interface {
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

// IndexWriter mutates a session's index. AddChunks requires
// len(chunks) == len(embeddings) and makes the batch visible atomically.
type IndexWriter interface {
	AddChunks(ctx context.Context, sessionID string, chunks []domain.Chunk, embeddings [][]float32) error
	Clear(ctx context.Context, sessionID string) error
}

// VectorSearcher answers nearest-neighbor queries against one session's
// chunks. Similarity is cosine normalized to [0,1]. An unknown or empty
// session yields an empty result, not an error.
type VectorSearcher interface {
	SearchVector(ctx context.Context, sessionID string, queryVector []float32, topK int, filter domain.SearchFilter) ([]domain.Candidate, error)
}

// LexicalSearcher answers keyword queries against one session's chunks with
// scores normalized to [0,1].
type LexicalSearcher interface {
	SearchLexical(ctx context.Context, sessionID string, queryText string, topK int, filter domain.SearchFilter) ([]domain.Candidate, error)
}

// EmbeddingCache memoizes query embeddings per exact query string for a
// bounded TTL. A failed lookup is a miss, never a pipeline error.
type EmbeddingCache interface {
	Get(ctx context.Context, query string) ([]float32, bool, error)
	Set(ctx context.Context, query string, vector []float32, ttl time.Duration) error
}

// DocumentRepository persists document text and state for the session's
// lifetime.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListBySession(ctx context.Context, sessionID string) ([]domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, chunkCount int, errMessage string) error
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
}

// ConversationStore persists conversation turns per session.
type ConversationStore interface {
	NextTurnIndex(ctx context.Context, sessionID string) (int, error)
	AppendTurn(ctx context.Context, turn domain.Turn) error
	ListRecentTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
	DeleteBySession(ctx context.Context, sessionID string) error
}

// MessageQueue carries indexing and session lifecycle events.
type MessageQueue interface {
	PublishIndexRequested(ctx context.Context, documentID string) error
	SubscribeIndexRequested(ctx context.Context, handler func(context.Context, string) error) error
	PublishSessionClosed(ctx context.Context, sessionID string) error
	SubscribeSessionClosed(ctx context.Context, handler func(context.Context, string) error) error
}
