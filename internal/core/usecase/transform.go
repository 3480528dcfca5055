package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dkorsak/docqa/internal/core/domain"
	"github.com/dkorsak/docqa/internal/core/ports"
)

const defaultTransformTimeout = 5 * time.Second

// QueryTransformer rewrites the user's question into a retrieval-friendly
// query. The original question is never altered; a failed or empty rewrite
// degrades to the original so this stage can never stall the pipeline.
type QueryTransformer struct {
	completer  ports.ChatCompleter
	timeout    time.Duration
	onFallback func(reason string)
}

func NewQueryTransformer(completer ports.ChatCompleter, timeout time.Duration, onFallback func(reason string)) *QueryTransformer {
	if timeout <= 0 {
		timeout = defaultTransformTimeout
	}
	if onFallback == nil {
		onFallback = func(string) {}
	}
	return &QueryTransformer{completer: completer, timeout: timeout, onFallback: onFallback}
}

// Transform returns the retrieval query for a question given recent history.
func (t *QueryTransformer) Transform(ctx context.Context, question string, history []domain.Turn) string {
	rewriteCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	rewritten, err := t.completer.Complete(rewriteCtx, buildRewritePrompt(question, history), 256, 0)
	if err != nil {
		slog.Warn("query_transform_fallback", "reason", "completer_error", "error", err)
		t.onFallback("completer_error")
		return question
	}
	rewritten = firstLine(rewritten)
	if rewritten == "" {
		slog.Warn("query_transform_fallback", "reason", "empty_rewrite")
		t.onFallback("empty_rewrite")
		return question
	}
	return rewritten
}

func buildRewritePrompt(question string, history []domain.Turn) string {
	lines := make([]string, 0, len(history))
	for _, turn := range history {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", turn.Role, content))
	}
	if len(lines) == 0 {
		lines = append(lines, "(empty)")
	}

	return fmt.Sprintf(`Restate the user's question as a standalone search query.
Resolve pronouns and references using the conversation history.
Optimize the wording for document search retrieval.
Output only the rewritten query, nothing else.

Conversation history:
%s

Question:
%s
`, strings.Join(lines, "\n"), question)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(strings.Trim(s, `"`))
}
