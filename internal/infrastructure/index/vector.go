package index

import (
	"context"
	"math"
	"sort"

	"github.com/dkorsak/docqa/internal/core/domain"
)

const defaultTopK = 16

// SearchVector scores every chunk in the session by cosine similarity to the
// query vector, mapped to [0,1] via (cos+1)/2. Ties break toward the lower
// sequence index so rankings stay stable in document order. An unknown or
// empty session yields an empty result.
func (r *Registry) SearchVector(
	_ context.Context,
	sessionID string,
	queryVector []float32,
	topK int,
	filter domain.SearchFilter,
) ([]domain.Candidate, error) {
	snap := r.snapshotFor(sessionID)
	if snap == nil || len(snap.chunks) == 0 {
		return nil, nil
	}
	queryNorm := norm(queryVector)
	if queryNorm == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	out := make([]domain.Candidate, 0, len(snap.chunks))
	for pos, chunk := range snap.chunks {
		if !snap.matches(pos, filter) {
			continue
		}
		vecNorm := norm(snap.vectors[pos])
		if vecNorm == 0 {
			continue
		}
		cos := dot(queryVector, snap.vectors[pos]) / (queryNorm * vecNorm)
		out = append(out, candidateAt(chunk, (cos+1)/2, 0))
	}

	sortByScore(out, func(c domain.Candidate) float64 { return c.VectorScore })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func candidateAt(chunk domain.Chunk, vectorScore, lexicalScore float64) domain.Candidate {
	return domain.Candidate{
		ChunkID:       chunk.ID,
		DocumentID:    chunk.DocumentID,
		SourceName:    chunk.SourceName,
		Group:         chunk.Group,
		SequenceIndex: chunk.SequenceIndex,
		Text:          chunk.Text,
		VectorScore:   vectorScore,
		LexicalScore:  lexicalScore,
	}
}

// sortByScore orders candidates by score descending, then sequence index
// ascending, then chunk id for full determinism.
func sortByScore(out []domain.Candidate, score func(domain.Candidate) float64) {
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := score(out[i]), score(out[j])
		if si != sj {
			return si > sj
		}
		if out[i].SequenceIndex != out[j].SequenceIndex {
			return out[i].SequenceIndex < out[j].SequenceIndex
		}
		return out[i].ChunkID < out[j].ChunkID
	})
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	sum := 0.0
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
