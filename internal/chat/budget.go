package chat

import (
	"github.com/docmindhq/docmind-backend/internal/data/repos/chunks"
	"github.com/docmindhq/docmind-backend/internal/retrieval"
	"github.com/docmindhq/docmind-backend/internal/platform/tokens"
)

// EnforceBudget trims retrieved chunks (lowest-ranked first) and, if still
// over, compresses the summary so the final prompt fits the token budget.
// Recent messages and the user message are never trimmed.
func EnforceBudget(ranked []*chunks.ScoredChunk, mem *MemoryContext, userMessage string, budget int) ([]*chunks.ScoredChunk, string) {
	fixed := tokens.Estimate(userMessage)
	for _, msg := range mem.RecentMessages {
		fixed += tokens.Estimate(msg.Content)
	}
	summary := mem.SummaryText

	remaining := budget - fixed - tokens.Estimate(summary)
	kept := ranked
	total := 0
	for i, sc := range kept {
		total += sc.Chunk.TokenCount
		if total > remaining {
			kept = kept[:i]
			break
		}
	}

	// No room for even one chunk: give the chunks priority over the summary.
	if len(kept) == 0 && len(ranked) > 0 {
		kept = ranked[:1]
		summaryBudget := budget - fixed - kept[0].Chunk.TokenCount
		if summaryBudget < 0 {
			summaryBudget = 0
		}
		summary = retrieval.Truncate(summary, summaryBudget, retrieval.TruncateHead)
	}
	return kept, summary
}
