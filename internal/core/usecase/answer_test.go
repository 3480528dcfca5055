package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dkorsak/docqa/internal/core/domain"
)

type answerCompleterFake struct {
	response string
	err      error
	prompts  []string
}

func (f *answerCompleterFake) Complete(_ context.Context, prompt string, _ int, _ float64) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

type answerConversationFake struct {
	turns       []domain.Turn
	nextErr     error
	appended    []domain.Turn
	listedLimit int
}

func (f *answerConversationFake) NextTurnIndex(context.Context, string) (int, error) {
	if f.nextErr != nil {
		return 0, f.nextErr
	}
	return len(f.turns)/2 + 1, nil
}

func (f *answerConversationFake) AppendTurn(_ context.Context, turn domain.Turn) error {
	f.appended = append(f.appended, turn)
	return nil
}

func (f *answerConversationFake) ListRecentTurns(_ context.Context, _ string, limit int) ([]domain.Turn, error) {
	f.listedLimit = limit
	if len(f.turns) > limit {
		return f.turns[len(f.turns)-limit:], nil
	}
	return f.turns, nil
}

func (f *answerConversationFake) DeleteBySession(context.Context, string) error { return nil }

type answerFixture struct {
	uc        *AnswerUseCase
	completer *answerCompleterFake
	rewriter  *transformCompleterFake
	vector    *retrieveVectorFake
	lexical   *retrieveLexicalFake
	convo     *answerConversationFake
}

func newAnswerFixture() *answerFixture {
	rewriter := &transformCompleterFake{response: "rewritten query"}
	vector := &retrieveVectorFake{candidates: []domain.Candidate{
		{ChunkID: "c1", SourceName: "report.txt", SequenceIndex: 0, Text: "Solar output peaked in July.", VectorScore: 0.9},
	}}
	lexical := &retrieveLexicalFake{}
	completer := &answerCompleterFake{response: "Solar output peaked in July [1]."}
	convo := &answerConversationFake{}

	uc := NewAnswerUseCase(
		NewQueryTransformer(rewriter, 0, nil),
		NewHybridRetriever(&retrieveEmbedderFake{vector: []float32{1, 0}}, nil, vector, lexical, nil, RetrieverConfig{}),
		NewContextAssembler(AssemblerConfig{}),
		completer,
		convo,
		nil,
		AnswerLimits{},
	)
	return &answerFixture{uc: uc, completer: completer, rewriter: rewriter, vector: vector, lexical: lexical, convo: convo}
}

func TestAnswerReturnsTextWithCitations(t *testing.T) {
	fx := newAnswerFixture()

	answer, err := fx.uc.Answer(context.Background(), "s1", "when did solar peak?", nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Text != "Solar output peaked in July [1]." {
		t.Fatalf("answer text = %q", answer.Text)
	}
	if len(answer.Citations) != 1 || answer.Citations[0].ChunkID != "c1" {
		t.Fatalf("expected citation for c1, got %+v", answer.Citations)
	}
	if answer.Degraded {
		t.Fatalf("healthy retrieval must not be degraded")
	}
}

func TestAnswerPromptUsesOriginalQuestion(t *testing.T) {
	fx := newAnswerFixture()
	fx.rewriter.response = "completely different retrieval query"

	if _, err := fx.uc.Answer(context.Background(), "s1", "when did solar peak?", nil); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if len(fx.completer.prompts) != 1 {
		t.Fatalf("expected one generation prompt, got %d", len(fx.completer.prompts))
	}
	prompt := fx.completer.prompts[0]
	if !strings.Contains(prompt, "when did solar peak?") {
		t.Fatalf("generation prompt must carry the original question:\n%s", prompt)
	}
	if strings.Contains(prompt, "completely different retrieval query") {
		t.Fatalf("rewritten query must stay retrieval-only:\n%s", prompt)
	}
}

func TestAnswerDegradedWhenOneBackendFails(t *testing.T) {
	fx := newAnswerFixture()
	fx.vector.err = errors.New("vector down")
	fx.lexical.candidates = []domain.Candidate{
		{ChunkID: "c9", SourceName: "notes.txt", Text: "Wind was flat.", LexicalScore: 0.8},
	}

	answer, err := fx.uc.Answer(context.Background(), "s1", "how was wind?", nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !answer.Degraded {
		t.Fatalf("single backend failure must flag the answer degraded")
	}
	if len(answer.Citations) != 1 || answer.Citations[0].ChunkID != "c9" {
		t.Fatalf("expected lexical-only citation, got %+v", answer.Citations)
	}
}

func TestAnswerFailsWhenBothBackendsFail(t *testing.T) {
	fx := newAnswerFixture()
	fx.vector.err = errors.New("vector down")
	fx.lexical.err = errors.New("lexical down")

	answer, err := fx.uc.Answer(context.Background(), "s1", "anything?", nil)
	if !domain.IsKind(err, domain.ErrRetrieval) {
		t.Fatalf("expected retrieval error, got %v", err)
	}
	if answer != nil {
		t.Fatalf("failed retrieval must not produce a partial answer")
	}
	if len(fx.completer.prompts) != 0 {
		t.Fatalf("generation must not run after retrieval failure")
	}
}

func TestAnswerGenerationFailureIsTerminal(t *testing.T) {
	fx := newAnswerFixture()
	fx.completer.err = errors.New("model offline")

	answer, err := fx.uc.Answer(context.Background(), "s1", "when did solar peak?", nil)
	if !domain.IsKind(err, domain.ErrGeneration) {
		t.Fatalf("expected generation error, got %v", err)
	}
	if answer != nil {
		t.Fatalf("generation failure must not fall back to raw chunks")
	}
	if len(fx.convo.appended) != 0 {
		t.Fatalf("failed round must not be persisted, got %d turns", len(fx.convo.appended))
	}
}

func TestAnswerHandlesEmptyRetrievalGracefully(t *testing.T) {
	fx := newAnswerFixture()
	fx.vector.candidates = nil

	answer, err := fx.uc.Answer(context.Background(), "s1", "anything indexed?", nil)
	if err != nil {
		t.Fatalf("empty retrieval is not an error, got %v", err)
	}
	if len(answer.Citations) != 0 {
		t.Fatalf("expected no citations, got %+v", answer.Citations)
	}
	if !strings.Contains(fx.completer.prompts[0], "(no relevant documents found)") {
		t.Fatalf("prompt must state the empty context:\n%s", fx.completer.prompts[0])
	}
}

func TestAnswerPersistsBothTurns(t *testing.T) {
	fx := newAnswerFixture()

	if _, err := fx.uc.Answer(context.Background(), "s1", "when did solar peak?", nil); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if len(fx.convo.appended) != 2 {
		t.Fatalf("expected user+assistant turns, got %d", len(fx.convo.appended))
	}
	if fx.convo.appended[0].Role != domain.RoleUser || fx.convo.appended[1].Role != domain.RoleAssistant {
		t.Fatalf("turn roles out of order: %s, %s", fx.convo.appended[0].Role, fx.convo.appended[1].Role)
	}
	if fx.convo.appended[0].TurnIndex != fx.convo.appended[1].TurnIndex {
		t.Fatalf("both turns must share a turn index")
	}
}

func TestAnswerLoadsHistoryWhenNotProvided(t *testing.T) {
	fx := newAnswerFixture()
	fx.convo.turns = []domain.Turn{
		{Role: domain.RoleUser, Content: "earlier question"},
		{Role: domain.RoleAssistant, Content: "earlier answer"},
	}

	if _, err := fx.uc.Answer(context.Background(), "s1", "follow up?", nil); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if fx.convo.listedLimit != 6 {
		t.Fatalf("expected default history window of 6, got %d", fx.convo.listedLimit)
	}
	if !strings.Contains(fx.completer.prompts[0], "earlier question") {
		t.Fatalf("loaded history must reach the generation prompt:\n%s", fx.completer.prompts[0])
	}
}

func TestAnswerRejectsBlankInput(t *testing.T) {
	fx := newAnswerFixture()

	if _, err := fx.uc.Answer(context.Background(), "  ", "question", nil); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("blank session id: got %v", err)
	}
	if _, err := fx.uc.Answer(context.Background(), "s1", "   ", nil); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("blank question: got %v", err)
	}
}
