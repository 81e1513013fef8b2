package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/data/repos/chunks"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
	"github.com/docmindhq/docmind-backend/internal/platform/tokens"
)

func TestTruncateHeadTail(t *testing.T) {
	text := strings.Repeat("alpha bravo charlie delta echo ", 100)
	out := Truncate(text, 50, TruncateHeadTail)
	if !strings.Contains(out, "[truncated]") {
		t.Fatalf("marker missing: %q", out)
	}
	if tokens.Estimate(out) > 60 {
		t.Fatalf("still over budget: %d tokens", tokens.Estimate(out))
	}
	parts := strings.Split(out, "[truncated]")
	if len(parts) != 2 || len(parts[0]) <= len(parts[1]) {
		t.Fatalf("head must be larger than tail: head=%d tail=%d", len(parts[0]), len(parts[1]))
	}
}

func TestTruncateHeadAndTail(t *testing.T) {
	text := strings.Repeat("word ", 500)
	head := Truncate(text, 50, TruncateHead)
	if !strings.HasSuffix(head, "[truncated]") {
		t.Fatalf("head strategy: %q", head[len(head)-30:])
	}
	tail := Truncate(text, 50, TruncateTail)
	if !strings.HasPrefix(tail, "[truncated]") {
		t.Fatalf("tail strategy: %q", tail[:30])
	}
	if short := Truncate("tiny", 50, TruncateHeadTail); short != "tiny" {
		t.Fatalf("under-budget text must pass through: %q", short)
	}
}

func TestCompressRecordsStats(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	cfg := DefaultRerankConfig()
	cfg.TokenBudget = 40
	cfg.PreserveHeading = true
	r := NewReranker(log, nil, cfg) // no LLM: truncation path only

	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 60)
	scChunk := &chunks.ScoredChunk{
		Chunk:    &domain.Chunk{ID: uuid.New(), Text: text, SectionHeading: "Liquidity", IsTabular: false},
		Metadata: map[string]any{},
	}
	out := r.compress(context.Background(), scChunk)

	if !strings.Contains(out, "Liquidity") {
		t.Fatalf("heading not preserved")
	}
	if scChunk.Metadata["compression_method"] != "truncation_head_tail" {
		t.Fatalf("method: %v", scChunk.Metadata["compression_method"])
	}
	orig := scChunk.Metadata["original_tokens"].(int)
	comp := scChunk.Metadata["compressed_tokens"].(int)
	if comp >= orig {
		t.Fatalf("no compression recorded: orig=%d comp=%d", orig, comp)
	}
	ratio := scChunk.Metadata["compression_ratio"].(float64)
	if ratio <= 0 || ratio >= 1 {
		t.Fatalf("ratio out of range: %v", ratio)
	}
}

func TestRerankDisabledDoesNoCompressionWork(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	cfg := DefaultRerankConfig()
	cfg.Enabled = false
	r := NewReranker(log, nil, cfg)

	sc := &chunks.ScoredChunk{
		Chunk:    &domain.Chunk{ID: uuid.New(), Text: strings.Repeat("well over any token budget ", 200)},
		Metadata: map[string]any{},
		Score:    0.7,
	}
	out, err := r.Rerank(context.Background(), "revenue trend", []*chunks.ScoredChunk{sc})
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(out) != 1 || out[0] != sc {
		t.Fatalf("disabled rerank must keep hybrid order")
	}
	if _, touched := sc.Metadata["compression_method"]; touched {
		t.Fatalf("disabled rerank must not compress candidates")
	}
}
