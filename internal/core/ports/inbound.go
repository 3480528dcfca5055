package ports

import (
	"context"

	"github.com/dkorsak/docqa/internal/core/domain"
)

// DocumentIndexer is the inbound contract for session-scoped indexing.
type DocumentIndexer interface {
	Index(ctx context.Context, sessionID string, docs []domain.DocumentInput) (*domain.IndexReport, error)
	ReindexDocument(ctx context.Context, documentID string) error
	ClearSession(ctx context.Context, sessionID string) error
}

// AnswerService is the inbound contract for one question/answer round.
// A nil history makes the service load the session's recent turns itself.
type AnswerService interface {
	Answer(ctx context.Context, sessionID, question string, history []domain.Turn) (*domain.Answer, error)
}
