package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkorsak/docqa/internal/core/domain"
	"github.com/dkorsak/docqa/internal/core/ports"
)

type retrieveEmbedderFake struct {
	calls  atomic.Int32
	vector []float32
	err    error
}

func (f *retrieveEmbedderFake) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func (f *retrieveEmbedderFake) EmbedQuery(context.Context, string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

type retrieveVectorFake struct {
	candidates []domain.Candidate
	err        error
	delay      time.Duration
}

func (f *retrieveVectorFake) SearchVector(ctx context.Context, _ string, _ []float32, _ int, _ domain.SearchFilter) ([]domain.Candidate, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.candidates, f.err
}

type retrieveLexicalFake struct {
	candidates []domain.Candidate
	err        error
	delay      time.Duration
}

func (f *retrieveLexicalFake) SearchLexical(ctx context.Context, _ string, _ string, _ int, _ domain.SearchFilter) ([]domain.Candidate, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.candidates, f.err
}

type retrieveCacheFake struct {
	stored map[string][]float32
	getErr error
	setErr error
}

func (f *retrieveCacheFake) Get(_ context.Context, query string) ([]float32, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	v, ok := f.stored[query]
	return v, ok, nil
}

func (f *retrieveCacheFake) Set(_ context.Context, query string, vector []float32, _ time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	if f.stored == nil {
		f.stored = make(map[string][]float32)
	}
	f.stored[query] = vector
	return nil
}

func vectorCandidate(id string, seq int, score float64) domain.Candidate {
	return domain.Candidate{ChunkID: id, SequenceIndex: seq, SourceName: id + ".txt", VectorScore: score}
}

func lexicalCandidate(id string, seq int, score float64) domain.Candidate {
	return domain.Candidate{ChunkID: id, SequenceIndex: seq, SourceName: id + ".txt", LexicalScore: score}
}

func newRetriever(vec *retrieveVectorFake, lex *retrieveLexicalFake, cache *retrieveCacheFake, cfg RetrieverConfig) (*HybridRetriever, *retrieveEmbedderFake) {
	embedder := &retrieveEmbedderFake{vector: []float32{0.1, 0.2}}
	// A typed nil in the interface slot would defeat the retriever's nil check.
	var c ports.EmbeddingCache
	if cache != nil {
		c = cache
	}
	return NewHybridRetriever(embedder, c, vec, lex, nil, cfg), embedder
}

func TestRetrieveMergesWithConfiguredWeights(t *testing.T) {
	vec := &retrieveVectorFake{candidates: []domain.Candidate{
		vectorCandidate("c1", 0, 1.0),
		vectorCandidate("c2", 1, 0.5),
	}}
	lex := &retrieveLexicalFake{candidates: []domain.Candidate{
		lexicalCandidate("c2", 1, 1.0),
		lexicalCandidate("c3", 2, 0.8),
	}}
	r, _ := newRetriever(vec, lex, nil, RetrieverConfig{VectorWeight: 0.7, LexicalWeight: 0.3})

	got, degraded, err := r.Retrieve(context.Background(), "s1", "query", domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if degraded {
		t.Fatalf("both backends healthy, degraded must be false")
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 deduplicated candidates, got %d", len(got))
	}
	// c1: 0.7*1.0, c2: 0.7*0.5 + 0.3*1.0 = 0.65, c3: 0.3*0.8 = 0.24.
	if got[0].ChunkID != "c1" || got[1].ChunkID != "c2" || got[2].ChunkID != "c3" {
		t.Fatalf("unexpected order: %s %s %s", got[0].ChunkID, got[1].ChunkID, got[2].ChunkID)
	}
	if got[1].HybridScore != 0.65 {
		t.Fatalf("c2 hybrid score = %v, want 0.65", got[1].HybridScore)
	}
	if got[2].VectorScore != 0 {
		t.Fatalf("chunk missing from vector backend must contribute 0, got %v", got[2].VectorScore)
	}
}

func TestRetrieveOrderIndependentOfBackendCompletion(t *testing.T) {
	vecCandidates := []domain.Candidate{vectorCandidate("c1", 0, 0.9), vectorCandidate("c2", 1, 0.4)}
	lexCandidates := []domain.Candidate{lexicalCandidate("c2", 1, 0.9), lexicalCandidate("c3", 2, 0.5)}

	slowVector, _ := newRetriever(
		&retrieveVectorFake{candidates: vecCandidates, delay: 30 * time.Millisecond},
		&retrieveLexicalFake{candidates: lexCandidates},
		nil, RetrieverConfig{},
	)
	slowLexical, _ := newRetriever(
		&retrieveVectorFake{candidates: vecCandidates},
		&retrieveLexicalFake{candidates: lexCandidates, delay: 30 * time.Millisecond},
		nil, RetrieverConfig{},
	)

	a, _, err := slowVector.Retrieve(context.Background(), "s1", "q", domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	b, _, err := slowLexical.Retrieve(context.Background(), "s1", "q", domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(a) != len(b) {
		t.Fatalf("result size differs by completion order: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ChunkID != b[i].ChunkID || a[i].HybridScore != b[i].HybridScore {
			t.Fatalf("ranking depends on completion order at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestRetrieveTieBreaksBySequenceIndex(t *testing.T) {
	vec := &retrieveVectorFake{candidates: []domain.Candidate{
		vectorCandidate("late", 5, 0.5),
		vectorCandidate("early", 2, 0.5),
	}}
	r, _ := newRetriever(vec, &retrieveLexicalFake{}, nil, RetrieverConfig{})

	got, _, err := r.Retrieve(context.Background(), "s1", "q", domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if got[0].ChunkID != "early" {
		t.Fatalf("tie must order by ascending sequence index, got %s first", got[0].ChunkID)
	}
}

func TestRetrieveDegradesWhenOneBackendFails(t *testing.T) {
	lex := &retrieveLexicalFake{candidates: []domain.Candidate{lexicalCandidate("c1", 0, 1.0)}}
	r, _ := newRetriever(&retrieveVectorFake{err: errors.New("vector down")}, lex, nil, RetrieverConfig{})

	got, degraded, err := r.Retrieve(context.Background(), "s1", "q", domain.SearchFilter{})
	if err != nil {
		t.Fatalf("single backend failure must not error, got %v", err)
	}
	if !degraded {
		t.Fatalf("expected degraded retrieval")
	}
	if len(got) != 1 || got[0].ChunkID != "c1" {
		t.Fatalf("expected lexical-only candidates, got %+v", got)
	}
}

func TestRetrieveFailsWhenBothBackendsFail(t *testing.T) {
	r, _ := newRetriever(
		&retrieveVectorFake{err: errors.New("vector down")},
		&retrieveLexicalFake{err: errors.New("lexical down")},
		nil, RetrieverConfig{},
	)

	_, _, err := r.Retrieve(context.Background(), "s1", "q", domain.SearchFilter{})
	if !domain.IsKind(err, domain.ErrRetrieval) {
		t.Fatalf("expected retrieval error, got %v", err)
	}
}

func TestRetrieveBackendTimeoutCountsAsFailure(t *testing.T) {
	vec := &retrieveVectorFake{candidates: []domain.Candidate{vectorCandidate("c1", 0, 1.0)}, delay: 200 * time.Millisecond}
	lex := &retrieveLexicalFake{candidates: []domain.Candidate{lexicalCandidate("c2", 1, 1.0)}}
	r, _ := newRetriever(vec, lex, nil, RetrieverConfig{BackendTimeout: 20 * time.Millisecond})

	got, degraded, err := r.Retrieve(context.Background(), "s1", "q", domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !degraded {
		t.Fatalf("timed out backend must mark the result degraded")
	}
	if len(got) != 1 || got[0].ChunkID != "c2" {
		t.Fatalf("expected only lexical result, got %+v", got)
	}
}

func TestRetrieveUsesEmbeddingCache(t *testing.T) {
	cache := &retrieveCacheFake{stored: map[string][]float32{"q": {0.5, 0.5}}}
	vec := &retrieveVectorFake{candidates: []domain.Candidate{vectorCandidate("c1", 0, 1.0)}}
	r, embedder := newRetriever(vec, &retrieveLexicalFake{}, cache, RetrieverConfig{})

	if _, _, err := r.Retrieve(context.Background(), "s1", "q", domain.SearchFilter{}); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if embedder.calls.Load() != 0 {
		t.Fatalf("cache hit must skip the embedder, got %d calls", embedder.calls.Load())
	}
}

func TestRetrieveCacheErrorIsAMiss(t *testing.T) {
	cache := &retrieveCacheFake{getErr: errors.New("redis down"), setErr: errors.New("redis down")}
	vec := &retrieveVectorFake{candidates: []domain.Candidate{vectorCandidate("c1", 0, 1.0)}}
	r, embedder := newRetriever(vec, &retrieveLexicalFake{}, cache, RetrieverConfig{})

	got, _, err := r.Retrieve(context.Background(), "s1", "q", domain.SearchFilter{})
	if err != nil {
		t.Fatalf("cache failure must not fail retrieval, got %v", err)
	}
	if embedder.calls.Load() != 1 {
		t.Fatalf("expected one embedder call, got %d", embedder.calls.Load())
	}
	if len(got) != 1 {
		t.Fatalf("expected vector candidates despite cache failure, got %d", len(got))
	}
}
