package usecase

import (
	"fmt"
	"strings"

	"github.com/dkorsak/docqa/internal/core/domain"
)

type AssemblerConfig struct {
	CharBudget    int
	ExcerptLength int
}

func (c AssemblerConfig) normalize() AssemblerConfig {
	out := c
	if out.CharBudget <= 0 {
		out.CharBudget = 40000
	}
	if out.ExcerptLength <= 0 {
		out.ExcerptLength = 300
	}
	return out
}

// ContextAssembler packs ranked candidates into a character-bounded context
// block with inline source markers and one citation per included chunk.
type ContextAssembler struct {
	cfg AssemblerConfig
}

func NewContextAssembler(cfg AssemblerConfig) *ContextAssembler {
	return &ContextAssembler{cfg: cfg.normalize()}
}

// Assemble walks candidates in ranked order and appends each rendered block
// while it fits the budget. An oversized candidate is skipped, not an abort:
// smaller chunks further down the ranking still get their chance. Output is
// fully determined by the candidate order and the budget.
func (a *ContextAssembler) Assemble(candidates []domain.Candidate) (string, []domain.Citation) {
	var b strings.Builder
	citations := make([]domain.Citation, 0, len(candidates))

	marker := 1
	for _, c := range candidates {
		block := renderContextBlock(marker, c)
		if b.Len()+len(block) > a.cfg.CharBudget {
			continue
		}
		b.WriteString(block)
		citations = append(citations, domain.Citation{
			SourceName: c.SourceName,
			ChunkID:    c.ChunkID,
			Excerpt:    excerpt(c.Text, a.cfg.ExcerptLength),
			Score:      c.HybridScore,
		})
		marker++
	}
	return b.String(), citations
}

func renderContextBlock(marker int, c domain.Candidate) string {
	return fmt.Sprintf("[%d] source=%s chunk=%s\n%s\n\n", marker, c.SourceName, c.ChunkID, c.Text)
}

func excerpt(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
