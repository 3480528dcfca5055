package index

import (
	"context"
	"fmt"
	"testing"

	"github.com/dkorsak/docqa/internal/core/domain"
)

func chunkFixture(docID string, seq int, text, group string) domain.Chunk {
	return domain.Chunk{
		ID:            fmt.Sprintf("%s:%d", docID, seq),
		DocumentID:    docID,
		SourceName:    docID + ".txt",
		Group:         group,
		SequenceIndex: seq,
		Text:          text,
	}
}

func TestAddChunksRejectsEmbeddingMismatch(t *testing.T) {
	r := NewRegistry()
	chunks := []domain.Chunk{chunkFixture("doc-1", 0, "alpha", "")}

	err := r.AddChunks(context.Background(), "s1", chunks, [][]float32{{1, 0}, {0, 1}})
	if !domain.IsKind(err, domain.ErrEmbeddingMismatch) {
		t.Fatalf("expected embedding mismatch error, got %v", err)
	}
	if got, _ := r.SearchVector(context.Background(), "s1", []float32{1, 0}, 5, domain.SearchFilter{}); len(got) != 0 {
		t.Fatalf("rejected batch must not be visible, got %d candidates", len(got))
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	if err := r.AddChunks(ctx, "session-a", []domain.Chunk{chunkFixture("doc-a", 0, "tardigrade biology", "")}, [][]float32{{1, 0}}); err != nil {
		t.Fatalf("AddChunks(a) error = %v", err)
	}
	if err := r.AddChunks(ctx, "session-b", []domain.Chunk{chunkFixture("doc-b", 0, "orbital mechanics", "")}, [][]float32{{0, 1}}); err != nil {
		t.Fatalf("AddChunks(b) error = %v", err)
	}

	fromB, err := r.SearchLexical(ctx, "session-b", "tardigrade", 5, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("SearchLexical() error = %v", err)
	}
	if len(fromB) != 0 {
		t.Fatalf("session-b must not see session-a chunks, got %d", len(fromB))
	}

	vecB, err := r.SearchVector(ctx, "session-b", []float32{1, 0}, 5, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("SearchVector() error = %v", err)
	}
	for _, c := range vecB {
		if c.DocumentID != "doc-b" {
			t.Fatalf("session-b query returned foreign chunk %s", c.ChunkID)
		}
	}
}

func TestSnapshotKeepsPreWriteView(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	if err := r.AddChunks(ctx, "s1", []domain.Chunk{chunkFixture("doc-1", 0, "first batch", "")}, [][]float32{{1, 0}}); err != nil {
		t.Fatalf("AddChunks() error = %v", err)
	}
	before := r.snapshotFor("s1")

	if err := r.AddChunks(ctx, "s1", []domain.Chunk{chunkFixture("doc-2", 0, "second batch", "")}, [][]float32{{0, 1}}); err != nil {
		t.Fatalf("AddChunks() error = %v", err)
	}

	if len(before.chunks) != 1 {
		t.Fatalf("pre-write snapshot changed size to %d", len(before.chunks))
	}
	after := r.snapshotFor("s1")
	if len(after.chunks) != 2 {
		t.Fatalf("post-write snapshot should hold 2 chunks, got %d", len(after.chunks))
	}
}

func TestAddChunksSkipsDuplicateIDs(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	batch := []domain.Chunk{chunkFixture("doc-1", 0, "same chunk", "")}

	for i := 0; i < 2; i++ {
		if err := r.AddChunks(ctx, "s1", batch, [][]float32{{1, 0}}); err != nil {
			t.Fatalf("AddChunks() #%d error = %v", i, err)
		}
	}
	if snap := r.snapshotFor("s1"); len(snap.chunks) != 1 {
		t.Fatalf("re-index must be idempotent, got %d chunks", len(snap.chunks))
	}
}

func TestVectorAndLexicalShareChunkIDs(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	if err := r.AddChunks(ctx, "s1",
		[]domain.Chunk{chunkFixture("doc-1", 0, "shared universe", "")},
		[][]float32{{0.6, 0.8}},
	); err != nil {
		t.Fatalf("AddChunks() error = %v", err)
	}

	vec, _ := r.SearchVector(ctx, "s1", []float32{0.6, 0.8}, 1, domain.SearchFilter{})
	lex, _ := r.SearchLexical(ctx, "s1", "shared", 1, domain.SearchFilter{})
	if len(vec) != 1 || len(lex) != 1 {
		t.Fatalf("expected the chunk in both sub-indexes, got vector=%d lexical=%d", len(vec), len(lex))
	}
	if vec[0].ChunkID != lex[0].ChunkID {
		t.Fatalf("sub-indexes disagree on chunk id: %s vs %s", vec[0].ChunkID, lex[0].ChunkID)
	}
}

func TestClearDropsSession(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	if err := r.AddChunks(ctx, "s1", []domain.Chunk{chunkFixture("doc-1", 0, "ephemeral", "")}, [][]float32{{1}}); err != nil {
		t.Fatalf("AddChunks() error = %v", err)
	}
	if err := r.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	got, err := r.SearchLexical(ctx, "s1", "ephemeral", 5, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("SearchLexical() after clear error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("cleared session still answers queries: %d candidates", len(got))
	}
}
