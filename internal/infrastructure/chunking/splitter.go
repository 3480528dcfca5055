package chunking

import (
	"errors"
	"unicode"

	"github.com/dkorsak/docqa/internal/core/domain"
)

const defaultBoundaryLookback = 64

// Splitter cuts text into rune windows of at most ChunkSize with Overlap
// runes shared between neighbors. A split prefers the last whitespace within
// BoundaryLookback runes of the window end; without one it cuts mid-token so
// progress is always guaranteed.
type Splitter struct {
	ChunkSize        int
	Overlap          int
	BoundaryLookback int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	return &Splitter{
		ChunkSize:        chunkSize,
		Overlap:          overlap,
		BoundaryLookback: defaultBoundaryLookback,
	}
}

// Split returns ordered chunks whose CharStart/CharEnd rune spans cover the
// whole input with the configured overlap. SequenceIndex starts at 0.
// Identity fields (ID, DocumentID, SessionID, ...) are left for the caller.
func (s *Splitter) Split(text string) ([]domain.Chunk, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, domain.WrapError(domain.ErrChunking, "split", errors.New("empty input text"))
	}

	lookback := s.BoundaryLookback
	if lookback < 0 {
		lookback = 0
	}
	// The boundary seek must never move an end behind start+overlap or the
	// next window would not advance.
	if maxLookback := s.ChunkSize - s.Overlap - 1; lookback > maxLookback {
		lookback = maxLookback
	}

	out := make([]domain.Chunk, 0, len(runes)/(s.ChunkSize-s.Overlap)+1)
	start := 0
	for seq := 0; ; seq++ {
		end := start + s.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else if j := lastWhitespace(runes, end, lookback); j > start+s.Overlap {
			end = j
		}

		out = append(out, domain.Chunk{
			SequenceIndex: seq,
			Text:          string(runes[start:end]),
			CharStart:     start,
			CharEnd:       end,
		})
		if end == len(runes) {
			break
		}
		start = end - s.Overlap
	}
	return out, nil
}

func (s *Splitter) validate() error {
	switch {
	case s.ChunkSize <= 0:
		return domain.WrapError(domain.ErrChunking, "split", errors.New("chunk size must be positive"))
	case s.Overlap < 0:
		return domain.WrapError(domain.ErrChunking, "split", errors.New("overlap must not be negative"))
	case s.Overlap >= s.ChunkSize:
		return domain.WrapError(domain.ErrChunking, "split", errors.New("overlap must be smaller than chunk size"))
	}
	return nil
}

// lastWhitespace returns the index of the last whitespace rune in
// (end-lookback, end], or -1.
func lastWhitespace(runes []rune, end, lookback int) int {
	low := end - lookback
	if low < 0 {
		low = 0
	}
	for j := end; j > low; j-- {
		if unicode.IsSpace(runes[j-1]) {
			return j - 1
		}
	}
	return -1
}
