package index

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkorsak/docqa/internal/core/domain"
)

// Registry owns every session's in-process index. It is the only mutable
// shared resource in the query path: the session map sits behind its own
// RWMutex, each session serializes writers with a private mutex, and readers
// work on immutable snapshots, so sessions never contend with each other and
// a query never observes a half-written batch.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionIndex
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*sessionIndex)}
}

type sessionIndex struct {
	mu   sync.Mutex // serializes writers; readers go through snap
	snap atomic.Pointer[snapshot]
}

// snapshot is an immutable view of one session's chunks shared by the vector
// and lexical sub-indexes. Both always hold exactly the same chunk ids.
type snapshot struct {
	chunks   []domain.Chunk
	vectors  [][]float32
	byID     map[string]int
	postings map[string][]posting
	docFreq  map[string]int
}

type posting struct {
	pos int
	tf  int
}

func emptySnapshot() *snapshot {
	return &snapshot{
		byID:     make(map[string]int),
		postings: make(map[string][]posting),
		docFreq:  make(map[string]int),
	}
}

// CreateOrGet returns the session's index, creating it on first use.
func (r *Registry) CreateOrGet(sessionID string) *sessionIndex {
	r.mu.RLock()
	idx, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		return idx
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok = r.sessions[sessionID]; ok {
		return idx
	}
	idx = &sessionIndex{}
	idx.snap.Store(emptySnapshot())
	r.sessions[sessionID] = idx
	return idx
}

// AddChunks appends a batch to the session's index with atomic visibility:
// in-flight queries keep the pre-write snapshot, later queries see the whole
// batch. Chunk ids already present are skipped, which makes re-indexing a
// persisted document idempotent.
func (r *Registry) AddChunks(_ context.Context, sessionID string, chunks []domain.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return domain.WrapError(
			domain.ErrEmbeddingMismatch,
			"add chunks",
			fmt.Errorf("%d chunks vs %d embeddings", len(chunks), len(embeddings)),
		)
	}
	if len(chunks) == 0 {
		return nil
	}

	idx := r.CreateOrGet(sessionID)
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.snap.Store(idx.snap.Load().withBatch(chunks, embeddings))
	return nil
}

// Clear drops the session's index entirely.
func (r *Registry) Clear(_ context.Context, sessionID string) error {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	return nil
}

// snapshotFor returns the current read view, or nil for an unknown session.
func (r *Registry) snapshotFor(sessionID string) *snapshot {
	r.mu.RLock()
	idx, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return idx.snap.Load()
}

// withBatch builds the successor snapshot. Existing postings slices are never
// mutated, only replaced, so older snapshots stay valid for their readers.
func (s *snapshot) withBatch(chunks []domain.Chunk, embeddings [][]float32) *snapshot {
	next := &snapshot{
		chunks:   make([]domain.Chunk, len(s.chunks), len(s.chunks)+len(chunks)),
		vectors:  make([][]float32, len(s.vectors), len(s.vectors)+len(chunks)),
		byID:     make(map[string]int, len(s.byID)+len(chunks)),
		postings: make(map[string][]posting, len(s.postings)),
		docFreq:  make(map[string]int, len(s.docFreq)),
	}
	copy(next.chunks, s.chunks)
	copy(next.vectors, s.vectors)
	for id, pos := range s.byID {
		next.byID[id] = pos
	}
	for term, list := range s.postings {
		next.postings[term] = list
	}
	for term, df := range s.docFreq {
		next.docFreq[term] = df
	}

	for i, chunk := range chunks {
		if _, dup := next.byID[chunk.ID]; dup {
			continue
		}
		pos := len(next.chunks)
		next.chunks = append(next.chunks, chunk)
		next.vectors = append(next.vectors, embeddings[i])
		next.byID[chunk.ID] = pos

		for term, tf := range termFrequencies(chunk.Text) {
			old := next.postings[term]
			list := make([]posting, len(old), len(old)+1)
			copy(list, old)
			next.postings[term] = append(list, posting{pos: pos, tf: tf})
			next.docFreq[term]++
		}
	}
	return next
}

func (s *snapshot) matches(pos int, filter domain.SearchFilter) bool {
	if filter.Group == "" {
		return true
	}
	return s.chunks[pos].Group == filter.Group
}
