package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dkorsak/docqa/internal/core/domain"
)

type ConversationRepository struct {
	db *sql.DB
}

func NewConversationRepository(db *sql.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// NextTurnIndex returns the index for the session's next question/answer
// pair. Both turns of a pair share the index.
func (r *ConversationRepository) NextTurnIndex(ctx context.Context, sessionID string) (int, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT COALESCE(MAX(turn_index), 0) + 1
FROM conversation_turns
WHERE session_id = $1
`, sessionID)

	var next int
	if err := row.Scan(&next); err != nil {
		return 0, fmt.Errorf("next turn index: %w", err)
	}
	return next, nil
}

func (r *ConversationRepository) AppendTurn(ctx context.Context, turn domain.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO conversation_turns (id, session_id, role, content, turn_index, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, turn.ID, turn.SessionID, turn.Role, turn.Content, turn.TurnIndex, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (r *ConversationRepository) ListRecentTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	// Both turns of a pair share turn_index; role ASC keeps the pair in
	// reverse chronological order before the final reversal below.
	rows, err := r.db.QueryContext(ctx, `
SELECT id, session_id, role, content, turn_index, created_at
FROM conversation_turns
WHERE session_id = $1
ORDER BY turn_index DESC, role ASC
LIMIT $2
`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent turns: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Turn, 0, limit)
	for rows.Next() {
		var turn domain.Turn
		if err := rows.Scan(
			&turn.ID, &turn.SessionID, &turn.Role, &turn.Content, &turn.TurnIndex, &turn.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	// Returned in descending order from SQL; reverse to keep chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *ConversationRepository) DeleteBySession(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM conversation_turns WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete session turns: %w", err)
	}
	return nil
}
