package extraction

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
	"github.com/docmindhq/docmind-backend/internal/platform/openai"
)

type fakeLLM struct {
	mu          sync.Mutex
	batchSizes  []int
	synthesized map[string]any
}

func (f *fakeLLM) Embed(ctx context.Context, inputs []string) ([][]float32, error) { return nil, nil }
func (f *fakeLLM) EmbedModel() string                                              { return "fake-embed" }
func (f *fakeLLM) EmbedDimension() int                                             { return 3 }
func (f *fakeLLM) Model() string                                                   { return "fake-chat" }

func (f *fakeLLM) SummarizeChunksBatch(ctx context.Context, inputs []openai.ChunkSummaryInput) ([]string, error) {
	f.mu.Lock()
	f.batchSizes = append(f.batchSizes, len(inputs))
	f.mu.Unlock()
	out := make([]string, len(inputs))
	for i, in := range inputs {
		out[i] = fmt.Sprintf("summary p%d", in.Page)
	}
	return out, nil
}

func (f *fakeLLM) GenerateJSON(ctx context.Context, system, user string, schema map[string]any) (*openai.Structured, error) {
	return &openai.Structured{Data: f.synthesized, Usage: openai.Usage{TotalTokens: 120}}, nil
}

func (f *fakeLLM) GenerateText(ctx context.Context, system, user string) (string, openai.Usage, error) {
	return "", openai.Usage{}, nil
}

func (f *fakeLLM) StreamText(ctx context.Context, system, user string, onDelta func(string)) (string, openai.Usage, error) {
	return "", openai.Usage{}, nil
}

func newTestPipeline(t *testing.T, llm openai.Client) *Pipeline {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewPipeline(log, llm, Config{BatchSize: 10, Parallelism: 4, SummaryModel: "fake-cheap"})
}

func narrativeChunk(page int, text string) *domain.Chunk {
	return &domain.Chunk{PageNumber: page, Text: text, TokenCount: 100}
}

func tableChunk(page int, text string) *domain.Chunk {
	return &domain.Chunk{PageNumber: page, Text: text, TokenCount: 50, IsTabular: true}
}

func TestSummarizeNarrativesBatchesAndKeepsOrder(t *testing.T) {
	llm := &fakeLLM{}
	p := newTestPipeline(t, llm)

	var rows []*domain.Chunk
	for i := 0; i < 23; i++ {
		rows = append(rows, narrativeChunk(i+1, fmt.Sprintf("text %d", i)))
	}
	summaries, err := p.SummarizeNarratives(context.Background(), rows)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if len(summaries) != 23 {
		t.Fatalf("summaries: want=23 got=%d", len(summaries))
	}
	// 23 chunks at batch size 10: 10 + 10 + 3.
	if len(llm.batchSizes) != 3 {
		t.Fatalf("batches: %v", llm.batchSizes)
	}
	total := 0
	for _, n := range llm.batchSizes {
		total += n
	}
	if total != 23 {
		t.Fatalf("batch coverage: %v", llm.batchSizes)
	}
	for i, s := range summaries {
		if s.Page != i+1 {
			t.Fatalf("order broken at %d: %+v", i, s)
		}
	}
}

func TestBuildContextLayout(t *testing.T) {
	summaries := []PageSummary{
		{Page: 1, Summary: "intro summary"},
		{Page: 3, Summary: "ops summary"},
	}
	tables := []*domain.Chunk{
		tableChunk(2, "Revenue | 2023 | 2024"),
		tableChunk(2, "Margin | 40% | 38%"),
		tableChunk(5, "Debt | 100 | 120"),
	}
	combined, stats := BuildContext(summaries, tables)

	docIdx := strings.Index(combined, "=== DOCUMENT SUMMARIES ===")
	tblIdx := strings.Index(combined, "=== FINANCIAL TABLES ===")
	if docIdx != 0 || tblIdx < docIdx {
		t.Fatalf("section order:\n%s", combined)
	}
	for _, want := range []string{
		"[Page 1]\nintro summary",
		"[Page 3]\nops summary",
		"[Page 2 - 2 tables]",
		"[Page 5 - 1 tables]",
		"Revenue | 2023 | 2024",
	} {
		if !strings.Contains(combined, want) {
			t.Fatalf("missing %q:\n%s", want, combined)
		}
	}
	if stats.TableChunks != 3 || stats.ContextTokens == 0 {
		t.Fatalf("stats: %+v", stats)
	}
}

func TestExtractAttachesRedFlags(t *testing.T) {
	llm := &fakeLLM{synthesized: map[string]any{
		"summary": "A leveraged business.",
		"financial_metrics": map[string]any{
			"debt_to_ebitda":             5.2,
			"gross_margin_pct_by_period": []any{42.0, 39.0, 36.5},
		},
	}}
	p := newTestPipeline(t, llm)

	rows := []*domain.Chunk{
		narrativeChunk(1, "The company carries significant debt."),
		tableChunk(2, "Debt | 500 | 520"),
	}
	res, err := p.Extract(context.Background(), rows, nil, "annual report")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	flags, _ := res.Data["red_flags"].([]any)
	if len(flags) != 2 {
		t.Fatalf("red flags: %v", flags)
	}
	rules := map[string]bool{}
	for _, f := range flags {
		m, _ := f.(map[string]any)
		rules[m["rule"].(string)] = true
	}
	if !rules[RuleHighLeverage] || !rules[RuleDecliningMargins] {
		t.Fatalf("rules: %v", rules)
	}
	if res.Stats.CompressionRatio <= 0 {
		t.Fatalf("compression ratio not recorded: %+v", res.Stats)
	}
	if res.Usage.TotalTokens != 120 {
		t.Fatalf("usage: %+v", res.Usage)
	}
}
