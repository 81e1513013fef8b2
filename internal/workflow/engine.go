package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/data/repos/chunks"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/envutil"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
	"github.com/docmindhq/docmind-backend/internal/platform/openai"
	"github.com/docmindhq/docmind-backend/internal/platform/tokens"
	"github.com/docmindhq/docmind-backend/internal/retrieval"
)

const (
	ModeDirect    = "direct"
	ModeMapReduce = "map_reduce"
)

// Retriever and RerankerIface are the retrieval seams the engine runs on.
type Retriever interface {
	Retrieve(dbc dbctx.Context, tenantID uuid.UUID, query string, scope chunks.Scope, k int) ([]*chunks.ScoredChunk, retrieval.Analysis, error)
}

type RerankerIface interface {
	Rerank(ctx context.Context, query string, cands []*chunks.ScoredChunk) ([]*chunks.ScoredChunk, error)
}

type EngineConfig struct {
	// DirectThresholdTokens gates direct synthesis vs map-reduce.
	DirectThresholdTokens int
	// DiversityRatio caps the share of a section's chunks a single document
	// may contribute.
	DiversityRatio       float64
	MaxQueriesPerSection int
	// MapModel is the cheap model for per-section summarization; synthesis
	// stays on the client's configured model.
	MapModel string
}

func EngineConfigFromEnv() EngineConfig {
	return EngineConfig{
		DirectThresholdTokens: envutil.GetEnvInt("WORKFLOW_DIRECT_THRESHOLD_TOKENS", 10000),
		DiversityRatio:        0.5,
		MaxQueriesPerSection:  5,
		MapModel:              envutil.GetEnv("WORKFLOW_MAP_MODEL", "gpt-4o-mini"),
	}
}

// Section is one retrieval section's assembled context.
type Section struct {
	Spec   SectionSpec
	Chunks []*chunks.ScoredChunk
	Tokens int
}

// SectionSummary is the map-phase output for one section.
type SectionSummary struct {
	Key              string   `json:"key"`
	Title            string   `json:"title"`
	Summary          string   `json:"summary"`
	KeyMetrics       []any    `json:"key_metrics,omitempty"`
	Tables           []string `json:"tables,omitempty"`
	DroppedCitations []string `json:"dropped_citations,omitempty"`

	mapUsage int
}

// Result is everything a run persists after execution.
type Result struct {
	Mode             string
	Artifact         map[string]any
	SectionSummaries []SectionSummary
	TokenUsage       int
	CitationsCount   int
	InvalidCitations []string
	ValidationErrors []string
	ContextStats     map[string]any
}

type Engine struct {
	log       *logger.Logger
	retriever Retriever
	reranker  RerankerIface
	llm       openai.Client
	cfg       EngineConfig
}

func NewEngine(log *logger.Logger, retriever Retriever, reranker RerankerIface, llm openai.Client, cfg EngineConfig) *Engine {
	if cfg.DirectThresholdTokens <= 0 {
		cfg = EngineConfigFromEnv()
	}
	return &Engine{
		log:       log.With("service", "WorkflowEngine"),
		retriever: retriever,
		reranker:  reranker,
		llm:       llm,
		cfg:       cfg,
	}
}

// Execute runs a workflow over the run's document set and returns the
// normalized artifact. Persistence is the caller's job.
func (e *Engine) Execute(dbc dbctx.Context, wf *domain.Workflow, run *domain.WorkflowRun) (*Result, error) {
	docOrder, err := decodeDocumentIDs(run)
	if err != nil {
		return nil, err
	}
	if len(docOrder) < wf.MinDocuments || len(docOrder) > wf.MaxDocuments {
		return nil, apierr.Newf(apierr.KindValidation, "workflow", false,
			"workflow %q needs %d-%d documents, got %d", wf.Name, wf.MinDocuments, wf.MaxDocuments, len(docOrder))
	}
	specs, err := ParseRetrievalSpec(wf)
	if err != nil {
		return nil, apierr.New(apierr.KindValidation, "workflow", false, err)
	}
	docIndex := map[uuid.UUID]int{}
	for i, id := range docOrder {
		docIndex[id] = i + 1
	}

	sections := make([]Section, 0, len(specs))
	total := 0
	chunkCount := 0
	allowed := map[string]bool{}
	for _, spec := range specs {
		sec, err := e.prepareSection(dbc, run.TenantID, spec, docOrder, docIndex)
		if err != nil {
			return nil, err
		}
		for _, sc := range sec.Chunks {
			tok, _ := sc.Metadata["citation"].(string)
			allowed[tok] = true
		}
		total += sec.Tokens
		chunkCount += len(sec.Chunks)
		sections = append(sections, sec)
	}

	variables := decodeVariables(run)
	schema := decodeSchema(wf)
	system := renderTemplate(wf.PromptTemplate, variables)

	res := &Result{
		ContextStats: map[string]any{
			"sections":     len(sections),
			"chunks":       chunkCount,
			"total_tokens": total,
		},
	}

	var structured *openai.Structured
	if total <= e.cfg.DirectThresholdTokens {
		res.Mode = ModeDirect
		structured, err = e.synthesizeDirect(dbc.Ctx, system, sections, schema)
	} else {
		res.Mode = ModeMapReduce
		res.SectionSummaries, err = e.mapSections(dbc.Ctx, sections)
		if err == nil {
			structured, err = e.reduce(dbc.Ctx, system, res.SectionSummaries, schema)
			res.TokenUsage += summariesUsage(res.SectionSummaries)
		}
	}
	if err != nil {
		return nil, err
	}
	res.TokenUsage += structured.Usage.TotalTokens
	res.ContextStats["mode"] = res.Mode

	res.Artifact = Normalize(structured.Data, schema)
	res.InvalidCitations = ValidateClosure(res.Artifact, allowed)
	for _, tok := range res.InvalidCitations {
		res.ValidationErrors = append(res.ValidationErrors, fmt.Sprintf("citation %s does not appear in the retrieved context", tok))
	}
	if refs, ok := res.Artifact["references"].([]any); ok {
		res.CitationsCount = len(refs) - len(res.InvalidCitations)
		if res.CitationsCount < 0 {
			res.CitationsCount = 0
		}
	}
	return res, nil
}

// prepareSection runs the section's queries, merges by best score per chunk,
// reranks against the combined intent, applies the diversity cap, and tags
// each survivor with its citation token.
func (e *Engine) prepareSection(dbc dbctx.Context, tenantID uuid.UUID, spec SectionSpec, docOrder []uuid.UUID, docIndex map[uuid.UUID]int) (Section, error) {
	queries := spec.Queries
	if len(queries) > e.cfg.MaxQueriesPerSection {
		queries = queries[:e.cfg.MaxQueriesPerSection]
	}
	maxChunks := spec.MaxChunks
	if maxChunks <= 0 {
		maxChunks = 8
	}
	scope := chunks.Scope{DocumentIDs: docOrder}

	best := map[uuid.UUID]*chunks.ScoredChunk{}
	for _, q := range queries {
		hits, _, err := e.retriever.Retrieve(dbc, tenantID, q, scope, maxChunks)
		if err != nil {
			return Section{}, err
		}
		for _, sc := range hits {
			if cur, ok := best[sc.Chunk.ID]; !ok || sc.Score > cur.Score {
				best[sc.Chunk.ID] = sc
			}
		}
	}

	merged := make([]*chunks.ScoredChunk, 0, len(best))
	for _, sc := range best {
		merged = append(merged, sc)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Chunk.ID.String() < merged[j].Chunk.ID.String()
	})
	combined := strings.Join(queries, " ")
	if e.reranker != nil {
		var err error
		if merged, err = e.reranker.Rerank(dbc.Ctx, combined, merged); err != nil {
			return Section{}, err
		}
	}

	perDocCap := int(e.cfg.DiversityRatio * float64(maxChunks))
	if perDocCap < 1 {
		perDocCap = 1
	}
	perDoc := map[uuid.UUID]int{}
	kept := make([]*chunks.ScoredChunk, 0, maxChunks)
	for _, sc := range merged {
		if len(kept) >= maxChunks {
			break
		}
		if perDoc[sc.Chunk.DocumentID] >= perDocCap {
			continue
		}
		perDoc[sc.Chunk.DocumentID]++
		sc.Metadata["citation"] = CitationToken(sc, docIndex)
		kept = append(kept, sc)
	}

	sec := Section{Spec: spec, Chunks: kept}
	for _, sc := range kept {
		if sc.Chunk.TokenCount > 0 {
			sec.Tokens += sc.Chunk.TokenCount
		} else {
			sec.Tokens += tokens.Estimate(sc.Chunk.Text)
		}
	}
	e.log.Info("workflow section prepared",
		"section", spec.Key, "chunks", len(kept), "tokens", sec.Tokens)
	return sec, nil
}

func (e *Engine) synthesizeDirect(ctx context.Context, system string, sections []Section, schema map[string]any) (*openai.Structured, error) {
	var b strings.Builder
	for _, sec := range sections {
		fmt.Fprintf(&b, "## %s\n\n", sec.Spec.Title)
		writeChunks(&b, sec.Chunks)
	}
	b.WriteString("Produce the artifact as JSON conforming to the required schema. " + citationRule)
	return e.llm.GenerateJSON(ctx, system, b.String(), schema)
}

const citationRule = "Cite every sourced claim with its token, e.g. [D1:p3]. Use only tokens present in the context."

const mapSystem = "You compress document passages for a later synthesis step. " +
	"Summarize the narrative passages, preserving every number, date, named entity, and citation token exactly as written. " +
	"Also extract key_metrics as {name, value} pairs. Return JSON {\"summary\": string, \"key_metrics\": [...]}."

var mapSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary": map[string]any{"type": "string"},
		"key_metrics": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":  map[string]any{"type": "string"},
					"value": map[string]any{"type": "string"},
				},
			},
		},
	},
	"required": []string{"summary"},
}

// mapSections summarizes each section on the cheap model. Tables pass
// through verbatim; a citation present in the input but absent from the
// summary is logged and recorded, never fatal.
func (e *Engine) mapSections(ctx context.Context, sections []Section) ([]SectionSummary, error) {
	mapClient := openai.WithModel(e.llm, e.cfg.MapModel)
	out := make([]SectionSummary, 0, len(sections))
	for _, sec := range sections {
		sum := SectionSummary{Key: sec.Spec.Key, Title: sec.Spec.Title}

		var narrative strings.Builder
		var inputToks []string
		for _, sc := range sec.Chunks {
			tok, _ := sc.Metadata["citation"].(string)
			if sc.Chunk.IsTabular {
				sum.Tables = append(sum.Tables, tok+"\n"+sc.Chunk.Text)
				continue
			}
			inputToks = append(inputToks, tok)
			fmt.Fprintf(&narrative, "%s %s\n\n", tok, sc.Chunk.Text)
		}
		if narrative.Len() > 0 {
			resp, err := mapClient.GenerateJSON(ctx, mapSystem, narrative.String(), mapSchema)
			if err != nil {
				return nil, err
			}
			sum.Summary, _ = resp.Data["summary"].(string)
			sum.KeyMetrics, _ = resp.Data["key_metrics"].([]any)
			sum.mapUsage = resp.Usage.TotalTokens

			for _, tok := range inputToks {
				if !strings.Contains(sum.Summary, tok) {
					sum.DroppedCitations = append(sum.DroppedCitations, tok)
				}
			}
			if len(sum.DroppedCitations) > 0 {
				e.log.Warn("section summary dropped citations",
					"section", sec.Spec.Key, "dropped", strings.Join(sum.DroppedCitations, " "))
			}
		}
		out = append(out, sum)
	}
	return out, nil
}

func (e *Engine) reduce(ctx context.Context, system string, summaries []SectionSummary, schema map[string]any) (*openai.Structured, error) {
	var b strings.Builder
	for _, sum := range summaries {
		fmt.Fprintf(&b, "## %s\n\n", sum.Title)
		if sum.Summary != "" {
			b.WriteString(sum.Summary)
			b.WriteString("\n\n")
		}
		if len(sum.KeyMetrics) > 0 {
			b.WriteString("Key metrics:\n")
			for _, m := range sum.KeyMetrics {
				if mm, ok := m.(map[string]any); ok {
					fmt.Fprintf(&b, "- %v: %v\n", mm["name"], mm["value"])
				}
			}
			b.WriteString("\n")
		}
		for _, table := range sum.Tables {
			b.WriteString(table)
			b.WriteString("\n\n")
		}
	}
	b.WriteString("Produce the artifact as JSON conforming to the required schema. " + citationRule)
	return e.llm.GenerateJSON(ctx, system, b.String(), schema)
}

func writeChunks(b *strings.Builder, list []*chunks.ScoredChunk) {
	for _, sc := range list {
		tok, _ := sc.Metadata["citation"].(string)
		fmt.Fprintf(b, "%s %s\n\n", tok, sc.Chunk.Text)
	}
}

func summariesUsage(sums []SectionSummary) int {
	total := 0
	for _, s := range sums {
		total += s.mapUsage
	}
	return total
}

// renderTemplate substitutes {{name}} placeholders from the run's variables.
func renderTemplate(tpl string, vars map[string]any) string {
	out := tpl
	for k, v := range vars {
		val := fmt.Sprintf("%v", v)
		out = strings.ReplaceAll(out, "{{"+k+"}}", val)
		out = strings.ReplaceAll(out, "{{ "+k+" }}", val)
	}
	return out
}

func decodeDocumentIDs(run *domain.WorkflowRun) ([]uuid.UUID, error) {
	var raw []string
	if err := json.Unmarshal(run.DocumentIDs, &raw); err != nil {
		return nil, apierr.New(apierr.KindValidation, "workflow", false, fmt.Errorf("document_ids: %w", err))
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, apierr.New(apierr.KindValidation, "workflow", false, fmt.Errorf("document_ids: %w", err))
		}
		out = append(out, id)
	}
	return out, nil
}

func decodeVariables(run *domain.WorkflowRun) map[string]any {
	vars := map[string]any{}
	if len(run.Variables) > 0 {
		_ = json.Unmarshal(run.Variables, &vars)
	}
	return vars
}

func decodeSchema(wf *domain.Workflow) map[string]any {
	schema := map[string]any{}
	if len(wf.OutputSchema) > 0 {
		_ = json.Unmarshal(wf.OutputSchema, &schema)
	}
	return schema
}
