package index

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/dkorsak/docqa/internal/core/domain"
)

// SearchLexical scores chunks by TF-IDF over the session's chunk population
// and normalizes by the best score so results land in [0,1]. A query with no
// matching terms yields an empty result. The postings live in the same
// snapshot as the vectors, so this index is always rebuildable from chunk
// texts alone.
func (r *Registry) SearchLexical(
	_ context.Context,
	sessionID string,
	queryText string,
	topK int,
	filter domain.SearchFilter,
) ([]domain.Candidate, error) {
	snap := r.snapshotFor(sessionID)
	if snap == nil || len(snap.chunks) == 0 {
		return nil, nil
	}
	terms := tokenize(queryText)
	if len(terms) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	total := float64(len(snap.chunks))
	scores := make(map[int]float64)
	for _, term := range terms {
		df := snap.docFreq[term]
		if df == 0 {
			continue
		}
		idf := math.Log(1 + total/float64(df))
		for _, p := range snap.postings[term] {
			if !snap.matches(p.pos, filter) {
				continue
			}
			scores[p.pos] += float64(p.tf) * idf
		}
	}
	if len(scores) == 0 {
		return nil, nil
	}

	max := 0.0
	for _, s := range scores {
		if s > max {
			max = s
		}
	}

	out := make([]domain.Candidate, 0, len(scores))
	for pos, s := range scores {
		out = append(out, candidateAt(snap.chunks[pos], 0, s/max))
	}
	sortByScore(out, func(c domain.Candidate) float64 { return c.LexicalScore })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func termFrequencies(text string) map[string]int {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	tf := make(map[string]int, len(tokens))
	for _, token := range tokens {
		tf[token]++
	}
	return tf
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
