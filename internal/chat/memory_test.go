package chat

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/data/repos/chunks"
	"github.com/docmindhq/docmind-backend/internal/domain"
)

func TestMergeKeyFactsDedupAndRecency(t *testing.T) {
	existing := []string{"Revenue was $10M in FY24", "CEO is Jane Smith", "HQ is in Austin"}
	fresh := []string{"ceo is jane smith", "Churn is 4%"}

	merged := MergeKeyFacts(existing, fresh, 10)
	if len(merged) != 4 {
		t.Fatalf("merged: want=4 got=%d (%v)", len(merged), merged)
	}
	// Restated fact moves to the most-recent slot with the new casing.
	if merged[2] != "ceo is jane smith" {
		t.Fatalf("recency refresh: %v", merged)
	}
	if merged[3] != "Churn is 4%" {
		t.Fatalf("new fact last: %v", merged)
	}

	count := map[string]int{}
	for _, f := range merged {
		count[strings.ToLower(f)]++
	}
	for f, c := range count {
		if c > 1 {
			t.Fatalf("duplicate fact %q", f)
		}
	}
}

func TestMergeKeyFactsKeepsMostRecentTen(t *testing.T) {
	var facts []string
	for i := 0; i < 15; i++ {
		facts = append(facts, strings.Repeat("x", i+1))
	}
	merged := MergeKeyFacts(nil, facts, 10)
	if len(merged) != 10 {
		t.Fatalf("cap: want=10 got=%d", len(merged))
	}
	if merged[0] != strings.Repeat("x", 6) {
		t.Fatalf("oldest kept: %q", merged[0])
	}
}

func TestEnforceBudgetTrimsChunksFirst(t *testing.T) {
	mem := &MemoryContext{
		SummaryText: strings.Repeat("summary ", 20),
		RecentMessages: []*domain.Message{
			{Role: domain.RoleUser, Content: "short question"},
		},
	}
	var ranked []*chunks.ScoredChunk
	for i := 0; i < 5; i++ {
		ranked = append(ranked, &chunks.ScoredChunk{
			Chunk:    &domain.Chunk{ID: uuid.New(), Text: strings.Repeat("chunk text ", 40), TokenCount: 110},
			Metadata: map[string]any{},
		})
	}

	kept, summary := EnforceBudget(ranked, mem, "what is the revenue?", 400)
	if len(kept) >= 5 || len(kept) == 0 {
		t.Fatalf("expected partial trim, kept=%d", len(kept))
	}
	// Chunks go before the summary does.
	if summary != mem.SummaryText {
		t.Fatalf("summary must survive while chunks can be trimmed")
	}
	// Highest-ranked chunks are the ones kept.
	if kept[0] != ranked[0] {
		t.Fatalf("trim must drop from the tail")
	}
}

func TestBuildPromptVariants(t *testing.T) {
	docA, docB := uuid.New(), uuid.New()
	in := PromptInput{
		UserMessage: "Compare the termination clauses",
		Variant:     PromptComparison,
		SummaryText: "Earlier we discussed pricing.",
		KeyFacts:    []string{"Contract A expires 2027"},
		RecentMessages: []*domain.Message{
			{Role: domain.RoleUser, Content: "what about renewals?"},
			{Role: domain.RoleAssistant, Content: "Both auto-renew."},
		},
		DocumentOrder: []uuid.UUID{docA, docB},
		Chunks: []*chunks.ScoredChunk{
			{
				Chunk:    &domain.Chunk{DocumentID: docA, PageNumber: 3, Text: "Either party may terminate...", SectionHeading: "Termination"},
				Metadata: map[string]any{"document_filename": "contract_a.pdf"},
			},
			{
				Chunk:    &domain.Chunk{DocumentID: docB, PageNumber: 7, Text: "Termination requires 90 days notice..."},
				Metadata: map[string]any{"document_filename": "contract_b.pdf"},
			},
		},
	}
	system, user := BuildPrompt(in)

	if !strings.Contains(system, "[D1:p3]") && !strings.Contains(system, "comparison") {
		t.Fatalf("comparison system prompt: %q", system)
	}
	for _, want := range []string{
		"SUMMARY\nEarlier we discussed pricing.",
		"KEY FACTS\n- Contract A expires 2027",
		"RECENT MESSAGES",
		"[D1:p3] contract_a.pdf - Termination",
		"[D2:p7] contract_b.pdf",
		"QUESTION\nCompare the termination clauses",
	} {
		if !strings.Contains(user, want) {
			t.Fatalf("user prompt missing %q:\n%s", want, user)
		}
	}

	// no_chunks variant must not render a SOURCES section.
	in.Variant = PromptNoChunks
	in.Chunks = nil
	system, user = BuildPrompt(in)
	if strings.Contains(user, "SOURCES") {
		t.Fatalf("no_chunks variant rendered sources")
	}
	if !strings.Contains(system, "never fabricate") {
		t.Fatalf("no_chunks system prompt: %q", system)
	}
}
