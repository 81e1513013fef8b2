package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/docmindhq/docmind-backend/internal/data/repos/chunks"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
	"github.com/docmindhq/docmind-backend/internal/platform/openai"
	"github.com/docmindhq/docmind-backend/internal/platform/tokens"
)

type TruncateStrategy string

const (
	TruncateHeadTail TruncateStrategy = "head_tail"
	TruncateHead     TruncateStrategy = "head"
	TruncateTail     TruncateStrategy = "tail"
)

const truncatedMarker = "[truncated]"

type RerankConfig struct {
	Enabled bool
	// TokenBudget caps each candidate's text before scoring.
	TokenBudget int
	// CompressionRatio is the target for LLM compression of oversize
	// narratives before truncation kicks in.
	CompressionRatio float64
	Strategy         TruncateStrategy
	PreserveHeading  bool
}

func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		Enabled:          true,
		TokenBudget:      256,
		CompressionRatio: 0.5,
		Strategy:         TruncateHeadTail,
		PreserveHeading:  true,
	}
}

// Reranker scores hybrid candidates against the query after compressing each
// to the token budget. Disabled reranking keeps the hybrid order.
type Reranker struct {
	log *logger.Logger
	llm openai.Client
	cfg RerankConfig
}

func NewReranker(log *logger.Logger, llm openai.Client, cfg RerankConfig) *Reranker {
	if cfg.TokenBudget <= 0 {
		cfg = DefaultRerankConfig()
	}
	return &Reranker{log: log.With("service", "Reranker"), llm: llm, cfg: cfg}
}

func (r *Reranker) Rerank(ctx context.Context, query string, cands []*chunks.ScoredChunk) ([]*chunks.ScoredChunk, error) {
	if len(cands) == 0 {
		return cands, nil
	}
	// Disabled reranking must not pay for compression either.
	if !r.cfg.Enabled || r.llm == nil {
		return cands, nil
	}
	compressed := make([]string, len(cands))
	for i, sc := range cands {
		compressed[i] = r.compress(ctx, sc)
	}

	scores, err := r.scoreBatch(ctx, query, compressed)
	if err != nil {
		// Rerank is best-effort; hybrid order stands.
		r.log.Warn("rerank failed, keeping hybrid order", "error", err)
		return cands, nil
	}
	for i, sc := range cands {
		if i < len(scores) {
			sc.Score = scores[i]
			sc.Metadata["rerank_score"] = scores[i]
		}
	}
	sortByHybrid(cands)
	return cands, nil
}

// compress fits a candidate's text into the token budget: LLM compression
// for oversize narratives, truncation for tables or when compression still
// overshoots. Stats are recorded on the chunk metadata.
func (r *Reranker) compress(ctx context.Context, sc *chunks.ScoredChunk) string {
	text := sc.Chunk.Text
	original := tokens.Estimate(text)
	if original <= r.cfg.TokenBudget {
		return text
	}

	method := "truncation_" + string(r.cfg.Strategy)
	if !sc.Chunk.IsTabular && r.llm != nil {
		if out, err := r.llmCompress(ctx, text); err == nil && strings.TrimSpace(out) != "" {
			text = out
			method = "prompt_compression"
		}
	}
	if tokens.Estimate(text) > r.cfg.TokenBudget {
		text = Truncate(text, r.cfg.TokenBudget, r.cfg.Strategy)
		if method == "prompt_compression" {
			method = "prompt_compression+truncation"
		}
	}
	if r.cfg.PreserveHeading && sc.Chunk.SectionHeading != "" && !strings.Contains(text, sc.Chunk.SectionHeading) {
		text = sc.Chunk.SectionHeading + "\n" + text
	}

	compressedTokens := tokens.Estimate(text)
	sc.Metadata["compression_method"] = method
	sc.Metadata["original_tokens"] = original
	sc.Metadata["compressed_tokens"] = compressedTokens
	sc.Metadata["compression_ratio"] = float64(compressedTokens) / float64(original)
	return text
}

func (r *Reranker) llmCompress(ctx context.Context, text string) (string, error) {
	target := int(float64(tokens.Estimate(text)) * r.cfg.CompressionRatio)
	system := fmt.Sprintf("Compress the passage to roughly %d tokens. Keep every number, date, and named entity. Output only the compressed text.", target)
	out, _, err := r.llm.GenerateText(ctx, system, text)
	return out, err
}

// scoreBatch asks the scoring model for relevance in [0,1] per candidate.
func (r *Reranker) scoreBatch(ctx context.Context, query string, texts []string) ([]float64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\n", query)
	for i, t := range texts {
		fmt.Fprintf(&b, "Passage %d:\n%s\n\n", i+1, t)
	}
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"scores": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "number"},
			},
		},
		"required": []string{"scores"},
	}
	system := "Score each passage's relevance to the query from 0.0 to 1.0. Return JSON {\"scores\": [...]} with one score per passage, in order."
	resp, err := r.llm.GenerateJSON(ctx, system, b.String(), schema)
	if err != nil {
		return nil, err
	}
	raw, _ := resp.Data["scores"].([]any)
	if len(raw) != len(texts) {
		return nil, fmt.Errorf("rerank returned %d scores for %d passages", len(raw), len(texts))
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("rerank score %d is not a number", i)
		}
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		out[i] = f
	}
	return out, nil
}

// Truncate cuts text to the token budget using the given strategy. head_tail
// keeps ~60% from the front and ~40% from the back joined by a visible
// marker.
func Truncate(text string, budget int, strategy TruncateStrategy) string {
	if tokens.Estimate(text) <= budget {
		return text
	}
	chars := budget * 4
	switch strategy {
	case TruncateHead:
		return cutAtWord(text, chars) + " " + truncatedMarker
	case TruncateTail:
		return truncatedMarker + " " + cutAtWordFromEnd(text, chars)
	default: // head_tail
		headChars := chars * 60 / 100
		tailChars := chars - headChars
		head := cutAtWord(text, headChars)
		tail := cutAtWordFromEnd(text, tailChars)
		return head + "\n" + truncatedMarker + "\n" + tail
	}
}

func cutAtWord(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if i := strings.LastIndex(cut, " "); i > max/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}

func cutAtWordFromEnd(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[len(s)-max:]
	if i := strings.Index(cut, " "); i >= 0 && i < max/2 {
		cut = cut[i+1:]
	}
	return strings.TrimSpace(cut)
}
