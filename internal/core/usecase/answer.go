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

// answerState tracks a query through its one-way lifecycle.
type answerState string

const (
	stateReceived    answerState = "received"
	stateTransformed answerState = "transformed"
	stateRetrieved   answerState = "retrieved"
	stateAssembled   answerState = "assembled"
	stateAnswered    answerState = "answered"
	stateFailed      answerState = "failed"
)

type AnswerLimits struct {
	HistoryTurns int
	MaxTokens    int
	Temperature  float64
	QueryTimeout time.Duration
}

func (l AnswerLimits) normalize() AnswerLimits {
	out := l
	if out.HistoryTurns <= 0 {
		out.HistoryTurns = 6
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 1024
	}
	if out.Temperature < 0 {
		out.Temperature = 0
	}
	if out.QueryTimeout <= 0 {
		out.QueryTimeout = 30 * time.Second
	}
	return out
}

// AnswerMetrics is the observability hook for finished queries.
type AnswerMetrics interface {
	AnswerFinished(state string, degraded bool, duration time.Duration)
	ContextAssembled(chars int, citations int)
}

type noopAnswerMetrics struct{}

func (noopAnswerMetrics) AnswerFinished(string, bool, time.Duration) {}
func (noopAnswerMetrics) ContextAssembled(int, int)                  {}

// AnswerUseCase orchestrates one question/answer round: transform the
// question, retrieve hybrid candidates, assemble a bounded context and
// delegate to the chat provider with the ORIGINAL question. Generation has no
// local fallback; its failure is the query's failure.
type AnswerUseCase struct {
	transformer   *QueryTransformer
	retriever     *HybridRetriever
	assembler     *ContextAssembler
	completer     ports.ChatCompleter
	conversations ports.ConversationStore
	metrics       AnswerMetrics
	limits        AnswerLimits
}

func NewAnswerUseCase(
	transformer *QueryTransformer,
	retriever *HybridRetriever,
	assembler *ContextAssembler,
	completer ports.ChatCompleter,
	conversations ports.ConversationStore,
	metrics AnswerMetrics,
	limits AnswerLimits,
) *AnswerUseCase {
	if metrics == nil {
		metrics = noopAnswerMetrics{}
	}
	return &AnswerUseCase{
		transformer:   transformer,
		retriever:     retriever,
		assembler:     assembler,
		completer:     completer,
		conversations: conversations,
		metrics:       metrics,
		limits:        limits.normalize(),
	}
}

func (uc *AnswerUseCase) Answer(
	ctx context.Context,
	sessionID, question string,
	history []domain.Turn,
) (*domain.Answer, error) {
	start := time.Now()
	state := stateReceived

	finish := func(answer *domain.Answer, err error) (*domain.Answer, error) {
		if err != nil {
			state = stateFailed
		}
		degraded := answer != nil && answer.Degraded
		uc.metrics.AnswerFinished(string(state), degraded, time.Since(start))
		return answer, err
	}

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return finish(nil, domain.WrapError(domain.ErrInvalidInput, "answer", fmt.Errorf("session id is required")))
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return finish(nil, domain.WrapError(domain.ErrInvalidInput, "answer", fmt.Errorf("question is required")))
	}

	// The whole query runs under one deadline; expiry cancels in-flight
	// backend calls and surfaces as an error, never as a partial answer.
	queryCtx, cancel := context.WithTimeout(ctx, uc.limits.QueryTimeout)
	defer cancel()

	if history == nil && uc.conversations != nil {
		loaded, err := uc.conversations.ListRecentTurns(queryCtx, sessionID, uc.limits.HistoryTurns)
		if err != nil {
			slog.Warn("history_load_failed", "session_id", sessionID, "error", err)
		} else {
			history = loaded
		}
	}
	history = truncateHistory(history, uc.limits.HistoryTurns)

	retrievalQuery := uc.transformer.Transform(queryCtx, question, history)
	state = stateTransformed

	candidates, degraded, err := uc.retriever.Retrieve(queryCtx, sessionID, retrievalQuery, domain.SearchFilter{})
	if err != nil {
		return finish(nil, err)
	}
	state = stateRetrieved

	contextBlock, citations := uc.assembler.Assemble(candidates)
	state = stateAssembled
	uc.metrics.ContextAssembled(len(contextBlock), len(citations))

	prompt := buildAnswerPrompt(question, contextBlock, history)
	text, err := uc.completer.Complete(queryCtx, prompt, uc.limits.MaxTokens, uc.limits.Temperature)
	if err != nil {
		return finish(nil, domain.WrapError(domain.ErrGeneration, "generate answer", err))
	}
	state = stateAnswered

	answer := &domain.Answer{
		Text:      strings.TrimSpace(text),
		Citations: citations,
		Degraded:  degraded,
	}
	uc.persistTurns(queryCtx, sessionID, question, answer.Text)
	return finish(answer, nil)
}

// persistTurns appends the round to the conversation store. The answer is
// already produced; a storage hiccup is logged, not surfaced.
func (uc *AnswerUseCase) persistTurns(ctx context.Context, sessionID, question, answer string) {
	if uc.conversations == nil {
		return
	}
	turn, err := uc.conversations.NextTurnIndex(ctx, sessionID)
	if err != nil {
		slog.Warn("conversation_turn_failed", "session_id", sessionID, "error", err)
		return
	}
	now := time.Now().UTC()
	for _, msg := range []struct {
		role, content string
	}{
		{domain.RoleUser, question},
		{domain.RoleAssistant, answer},
	} {
		if err := uc.conversations.AppendTurn(ctx, domain.Turn{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Role:      msg.role,
			Content:   msg.content,
			TurnIndex: turn,
			CreatedAt: now,
		}); err != nil {
			slog.Warn("conversation_append_failed", "session_id", sessionID, "role", msg.role, "error", err)
			return
		}
	}
}

func truncateHistory(history []domain.Turn, limit int) []domain.Turn {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}

func buildAnswerPrompt(question, contextBlock string, history []domain.Turn) string {
	var b strings.Builder
	b.WriteString(`You are a document question answering assistant.
Answer only from the numbered context blocks below.
Reference supporting blocks inline as [n].
If the context is insufficient, say so directly.

`)
	b.WriteString("Context:\n")
	if contextBlock == "" {
		b.WriteString("(no relevant documents found)\n\n")
	} else {
		b.WriteString(contextBlock)
	}
	if len(history) > 0 {
		b.WriteString("Conversation history:\n")
		for _, turn := range history {
			content := strings.TrimSpace(turn.Content)
			if content == "" {
				continue
			}
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, content)
		}
		b.WriteString("\n")
	}
	b.WriteString("Question:\n")
	b.WriteString(question)
	b.WriteString("\n")
	return b.String()
}
