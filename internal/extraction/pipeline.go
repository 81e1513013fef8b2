package extraction

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/envutil"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
	"github.com/docmindhq/docmind-backend/internal/platform/openai"
	"github.com/docmindhq/docmind-backend/internal/platform/tokens"
)

type Config struct {
	// BatchSize is the number of narrative chunks summarized per LLM call.
	BatchSize int
	// Parallelism bounds concurrent summary batches.
	Parallelism int
	// SummaryModel is the cheap model for the map half of the pipeline.
	SummaryModel string
}

func ConfigFromEnv() Config {
	return Config{
		BatchSize:    envutil.GetEnvInt("EXTRACTION_BATCH_SIZE", 10),
		Parallelism:  envutil.GetEnvInt("EXTRACTION_PARALLELISM", 4),
		SummaryModel: envutil.GetEnv("EXTRACTION_SUMMARY_MODEL", "gpt-4o-mini"),
	}
}

// PageSummary is one narrative chunk compressed to a short summary, keyed by
// page for the combined context.
type PageSummary struct {
	Page    int    `json:"page"`
	Summary string `json:"summary"`
}

// Stats records how much the summarization step compressed the document.
type Stats struct {
	NarrativeChunks  int     `json:"narrative_chunks"`
	TableChunks      int     `json:"table_chunks"`
	OriginalTokens   int     `json:"original_tokens"`
	ContextTokens    int     `json:"context_tokens"`
	CompressionRatio float64 `json:"compression_ratio"`
}

// Result is the synthesized extraction plus rule findings and accounting.
type Result struct {
	Data      map[string]any
	Summaries []PageSummary
	Stats     Stats
	Usage     openai.Usage
}

type Pipeline struct {
	log *logger.Logger
	llm openai.Client
	cfg Config
}

func NewPipeline(log *logger.Logger, llm openai.Client, cfg Config) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg = ConfigFromEnv()
	}
	return &Pipeline{log: log.With("service", "ExtractionPipeline"), llm: llm, cfg: cfg}
}

// Partition splits chunks into narrative and table sets.
func Partition(rows []*domain.Chunk) (narrative, tables []*domain.Chunk) {
	for _, c := range rows {
		if c.IsTabular {
			tables = append(tables, c)
		} else {
			narrative = append(narrative, c)
		}
	}
	return narrative, tables
}

// SummarizeNarratives compresses narrative chunks on the cheap model in
// parallel batches. Output order matches input order, so intermediate
// summaries can be checkpointed and resumed by index.
func (p *Pipeline) SummarizeNarratives(ctx context.Context, narrative []*domain.Chunk) ([]PageSummary, error) {
	if len(narrative) == 0 {
		return nil, nil
	}
	cheap := openai.WithModel(p.llm, p.cfg.SummaryModel)

	out := make([]PageSummary, len(narrative))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Parallelism)

	for start := 0; start < len(narrative); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(narrative) {
			end = len(narrative)
		}
		start, end := start, end
		g.Go(func() error {
			batch := narrative[start:end]
			inputs := make([]openai.ChunkSummaryInput, len(batch))
			for i, c := range batch {
				inputs[i] = openai.ChunkSummaryInput{Page: c.PageNumber, Text: c.Text}
			}
			summaries, err := cheap.SummarizeChunksBatch(gctx, inputs)
			if err != nil {
				return fmt.Errorf("summarize batch %d-%d: %w", start, end, err)
			}
			for i, s := range summaries {
				out[start+i] = PageSummary{Page: batch[i].PageNumber, Summary: s}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// BuildContext assembles the combined synthesis context: compressed
// narrative summaries first, raw financial tables verbatim after.
func BuildContext(summaries []PageSummary, tables []*domain.Chunk) (string, Stats) {
	var b strings.Builder
	b.WriteString("=== DOCUMENT SUMMARIES ===\n")
	for _, s := range summaries {
		fmt.Fprintf(&b, "[Page %d]\n%s\n", s.Page, s.Summary)
	}

	byPage := map[int][]*domain.Chunk{}
	var pageOrder []int
	for _, c := range tables {
		if _, ok := byPage[c.PageNumber]; !ok {
			pageOrder = append(pageOrder, c.PageNumber)
		}
		byPage[c.PageNumber] = append(byPage[c.PageNumber], c)
	}
	b.WriteString("=== FINANCIAL TABLES ===\n")
	for _, page := range pageOrder {
		group := byPage[page]
		fmt.Fprintf(&b, "[Page %d - %d tables]\n", page, len(group))
		for _, c := range group {
			b.WriteString(c.Text)
			b.WriteString("\n")
		}
	}

	combined := b.String()
	stats := Stats{
		NarrativeChunks: len(summaries),
		TableChunks:     len(tables),
		ContextTokens:   tokens.Estimate(combined),
	}
	return combined, stats
}

const synthesisSystem = "You extract structured data from business documents. " +
	"Use only the provided summaries and tables; leave unknown fields null rather than guessing. " +
	"Report financial_metrics exactly as found, in the units stated by the document."

// Synthesize invokes the synthesis model over the combined context and
// attaches the deterministic red-flag findings under red_flags.
func (p *Pipeline) Synthesize(ctx context.Context, combined string, schema map[string]any, docContext string) (map[string]any, openai.Usage, error) {
	system := synthesisSystem
	if docContext != "" {
		system += "\nDocument context: " + docContext
	}
	if schema == nil {
		schema = DefaultSchema()
	}
	structured, err := p.llm.GenerateJSON(ctx, system, combined, schema)
	if err != nil {
		return nil, openai.Usage{}, err
	}

	data := structured.Data
	flags := DetectRedFlags(MetricsFromResult(data))
	asAny := make([]any, len(flags))
	for i, f := range flags {
		asAny[i] = map[string]any{
			"rule":     f.Rule,
			"severity": f.Severity,
			"detail":   f.Detail,
		}
	}
	data["red_flags"] = asAny
	return data, structured.Usage, nil
}

// Extract runs the full pipeline over a document's chunks and returns the
// synthesized result with red-flag findings attached under red_flags.
func (p *Pipeline) Extract(ctx context.Context, rows []*domain.Chunk, schema map[string]any, docContext string) (*Result, error) {
	narrative, tables := Partition(rows)

	summaries, err := p.SummarizeNarratives(ctx, narrative)
	if err != nil {
		return nil, err
	}
	combined, stats := BuildContext(summaries, tables)
	stats.NarrativeChunks = len(narrative)
	for _, c := range rows {
		if c.TokenCount > 0 {
			stats.OriginalTokens += c.TokenCount
		} else {
			stats.OriginalTokens += tokens.Estimate(c.Text)
		}
	}
	if stats.OriginalTokens > 0 {
		stats.CompressionRatio = float64(stats.ContextTokens) / float64(stats.OriginalTokens)
	}
	p.log.Info("extraction context built",
		"narrative", len(narrative), "tables", len(tables),
		"compression_ratio", stats.CompressionRatio)

	data, usage, err := p.Synthesize(ctx, combined, schema, docContext)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:      data,
		Summaries: summaries,
		Stats:     stats,
		Usage:     usage,
	}, nil
}

// DefaultSchema is the extraction shape when the caller supplies none. The
// financial_metrics object feeds the red-flag rules.
func DefaultSchema() map[string]any {
	number := map[string]any{"type": []string{"number", "null"}}
	numberArray := map[string]any{"type": "array", "items": map[string]any{"type": "number"}}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"company_name": map[string]any{"type": []string{"string", "null"}},
			"summary":      map[string]any{"type": "string"},
			"key_findings": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"financial_metrics": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"gross_margin_pct_by_period": numberArray,
					"free_cash_flow_by_period":   numberArray,
					"debt_to_ebitda":             number,
					"top_customer_revenue_pct":   number,
				},
			},
		},
		"required": []string{"summary"},
	}
}
