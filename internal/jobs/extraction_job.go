package jobs

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/extraction"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
)

// ExtractionPayload parameterizes the structured extraction pipeline.
type ExtractionPayload struct {
	Schema map[string]any `json:"schema,omitempty"`
}

// HandleExtraction summarizes the document's narrative chunks, builds the
// combined context, and synthesizes the structured result. Summaries and the
// combined context are persisted between stages so a failed synthesis resumes
// without re-summarizing.
func (p *Pipelines) HandleExtraction(dbc dbctx.Context, rt *Runtime) error {
	job := rt.Job()
	if job.ExtractionID == nil {
		return rt.Fail(dbc, domain.StageSummarizeNarratives, fmt.Errorf("extraction job without extraction_id"))
	}
	ext, err := p.extrRepo.GetByID(dbc, job.TenantID, *job.ExtractionID)
	if err != nil {
		return rt.Fail(dbc, domain.StageSummarizeNarratives, err)
	}
	if ext.DocumentID == nil {
		return rt.Fail(dbc, domain.StageSummarizeNarratives, fmt.Errorf("extraction %s has no document", ext.ID))
	}
	var payload ExtractionPayload
	if err := rt.DecodePayload(&payload); err != nil {
		return rt.Fail(dbc, domain.StageSummarizeNarratives, err)
	}

	rows, err := p.chunkRepo.ListByDocument(dbc, *ext.DocumentID)
	if err != nil {
		return rt.Fail(dbc, domain.StageSummarizeNarratives, err)
	}
	if len(rows) == 0 {
		return rt.Fail(dbc, domain.StageSummarizeNarratives,
			fmt.Errorf("document %s has no chunks; index it before extracting", ext.DocumentID))
	}

	var combined string
	var stats extraction.Stats
	var summaries []extraction.PageSummary

	if job.SummarizingCompleted && job.CombinedContextPath != "" {
		rt.Progress(dbc, domain.StageSummarizeNarratives, 60, "resuming from saved context")
		raw, err := rt.LoadArtifact(dbc.Ctx, job.CombinedContextPath)
		if err != nil {
			return rt.Fail(dbc, domain.StageSummarizeNarratives, err)
		}
		combined = string(raw)
	} else {
		narrative, tables := extraction.Partition(rows)
		rt.Progress(dbc, domain.StageSummarizeNarratives, 20,
			fmt.Sprintf("summarizing %d narrative chunks", len(narrative)))
		summaries, err = p.extractor.SummarizeNarratives(dbc.Ctx, narrative)
		if err != nil {
			p.markExtractionFailed(dbc, ext, err)
			return rt.Fail(dbc, domain.StageSummarizeNarratives, err)
		}

		summariesJSON, err := json.Marshal(summaries)
		if err != nil {
			return rt.Fail(dbc, domain.StageSummarizeNarratives, err)
		}
		summariesKey, err := rt.SaveArtifact(dbc.Ctx, "summaries.json", summariesJSON)
		if err != nil {
			return rt.Fail(dbc, domain.StageSummarizeNarratives, err)
		}

		combined, stats = extraction.BuildContext(summaries, tables)
		contextKey, err := rt.SaveArtifact(dbc.Ctx, "combined_context.txt", []byte(combined))
		if err != nil {
			return rt.Fail(dbc, domain.StageSummarizeNarratives, err)
		}
		if err := rt.StageDone(dbc, map[string]interface{}{
			"summarizing_completed": true,
			"summaries_path":        summariesKey,
			"combined_context_path": contextKey,
		}); err != nil {
			rt.Log().Warn("stage flag update failed", "error", err)
		}
	}

	rt.Progress(dbc, domain.StageSynthesizeStructured, 70, "synthesizing structured result")
	data, usage, err := p.extractor.Synthesize(dbc.Ctx, combined, payload.Schema, ext.Context)
	if err != nil {
		p.markExtractionFailed(dbc, ext, err)
		return rt.Fail(dbc, domain.StageSynthesizeStructured, err)
	}
	if stats.ContextTokens > 0 {
		data["context_stats"] = map[string]any{
			"narrative_chunks":  stats.NarrativeChunks,
			"table_chunks":      stats.TableChunks,
			"context_tokens":    stats.ContextTokens,
			"compression_ratio": stats.CompressionRatio,
		}
	}

	resultJSON, err := json.Marshal(data)
	if err != nil {
		return rt.Fail(dbc, domain.StageSynthesizeStructured, err)
	}
	rawKey, err := rt.SaveArtifact(dbc.Ctx, "result.json", resultJSON)
	if err != nil {
		return rt.Fail(dbc, domain.StageSynthesizeStructured, err)
	}
	if err := rt.StageDone(dbc, map[string]interface{}{
		"synthesis_completed": true,
		"raw_response_path":   rawKey,
	}); err != nil {
		rt.Log().Warn("stage flag update failed", "error", err)
	}

	if err := p.extrRepo.MarkCompleted(dbc, ext.ID, datatypes.JSON(resultJSON), usage.TotalTokens, p.costOf(usage.TotalTokens)); err != nil {
		return rt.Fail(dbc, domain.StageSynthesizeStructured, err)
	}
	return rt.Succeed(dbc, "extraction completed")
}

func (p *Pipelines) markExtractionFailed(dbc dbctx.Context, ext *domain.Extraction, cause error) {
	msg := cause.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	if err := p.extrRepo.MarkFailed(dbc, ext.ID, msg); err != nil {
		p.log.Error("extraction mark failed errored", "extraction_id", ext.ID.String(), "error", err)
	}
}
