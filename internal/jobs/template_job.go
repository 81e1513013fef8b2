package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/extraction"
	"github.com/docmindhq/docmind-backend/internal/platform/blobstore"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
)

const fillSystem = "You fill template fields from document content. " +
	"Return JSON {\"field_values\": {field_name: value}} using only values supported by the context; leave unsupported fields null."

var fillSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"field_values": map[string]any{"type": "object"},
	},
	"required": []string{"field_values"},
}

// HandleTemplateFill runs the two-phase fill loop. Phase one extracts field
// values and parks the run in awaiting_review; once the review approves, the
// requeued job renders the output and completes the run.
func (p *Pipelines) HandleTemplateFill(dbc dbctx.Context, rt *Runtime) error {
	job := rt.Job()
	if job.TemplateFillRunID == nil {
		return rt.Fail(dbc, domain.StagePrepareContext, fmt.Errorf("template job without template_fill_run_id"))
	}
	run, err := p.tmplRepo.GetFillRun(dbc, job.TenantID, *job.TemplateFillRunID)
	if err != nil {
		return rt.Fail(dbc, domain.StagePrepareContext, err)
	}

	switch run.Status {
	case domain.StatusAwaitingReview:
		return p.finalizeFill(dbc, rt, run)
	case domain.StatusProcessing:
		if len(run.FieldValues) > 0 {
			return p.finalizeFill(dbc, rt, run)
		}
		return p.extractFill(dbc, rt, run)
	default:
		return p.extractFill(dbc, rt, run)
	}
}

func (p *Pipelines) extractFill(dbc dbctx.Context, rt *Runtime, run *domain.TemplateFillRun) error {
	if run.DocumentID == nil {
		return rt.Fail(dbc, domain.StagePrepareContext, fmt.Errorf("fill run %s has no document", run.ID))
	}
	if run.Status == domain.StatusQueued {
		if err := p.tmplRepo.TransitionFillRun(dbc, run.ID, domain.StatusProcessing, nil); err != nil {
			return rt.Fail(dbc, domain.StagePrepareContext, err)
		}
	}
	rt.Progress(dbc, domain.StagePrepareContext, 20, "extracting field values")

	rows, err := p.chunkRepo.ListByDocument(dbc, *run.DocumentID)
	if err != nil {
		return rt.Fail(dbc, domain.StagePrepareContext, err)
	}
	if len(rows) == 0 {
		return rt.Fail(dbc, domain.StagePrepareContext,
			fmt.Errorf("document %s has no chunks; index it before filling", run.DocumentID))
	}

	narrative, tables := extraction.Partition(rows)
	summaries, err := p.extractor.SummarizeNarratives(dbc.Ctx, narrative)
	if err != nil {
		return rt.Fail(dbc, domain.StagePrepareContext, err)
	}
	combined, _ := extraction.BuildContext(summaries, tables)

	structured, err := p.llm.GenerateJSON(dbc.Ctx, fillSystem, combined, fillSchema)
	if err != nil {
		return rt.Fail(dbc, domain.StagePrepareContext, err)
	}
	values, _ := structured.Data["field_values"].(map[string]any)
	raw, err := json.Marshal(values)
	if err != nil {
		return rt.Fail(dbc, domain.StagePrepareContext, err)
	}

	if err := p.tmplRepo.TransitionFillRun(dbc, run.ID, domain.StatusAwaitingReview, map[string]interface{}{
		"field_values": datatypes.JSON(raw),
	}); err != nil {
		return rt.Fail(dbc, domain.StagePrepareContext, err)
	}

	// The job parks with the run; review requeues it for the render phase.
	if err := rt.StageDone(dbc, map[string]interface{}{
		"status":           domain.StatusAwaitingReview,
		"progress_percent": 60,
		"message":          "field values await review",
		"locked_at":        nil,
	}); err != nil {
		return rt.Fail(dbc, domain.StagePrepareContext, err)
	}
	rt.Log().Info("fill run awaiting review", "run_id", run.ID.String(), "fields", len(values))
	return nil
}

func (p *Pipelines) finalizeFill(dbc dbctx.Context, rt *Runtime, run *domain.TemplateFillRun) error {
	if run.Status == domain.StatusAwaitingReview {
		if err := p.tmplRepo.TransitionFillRun(dbc, run.ID, domain.StatusProcessing, nil); err != nil {
			return rt.Fail(dbc, domain.StageGenerateArtifact, err)
		}
	}
	rt.Progress(dbc, domain.StageGenerateArtifact, 80, "rendering filled template")

	outKey := blobstore.Key(blobstore.PrefixFills, run.TenantID.String(), run.ID.String(), "output.json")
	if err := p.blobs.Upload(dbc.Ctx, outKey, bytes.NewReader(run.FieldValues), "application/json"); err != nil {
		return rt.Fail(dbc, domain.StageGenerateArtifact, err)
	}

	if err := p.tmplRepo.TransitionFillRun(dbc, run.ID, domain.StatusCompleted, map[string]interface{}{
		"output_path": outKey,
	}); err != nil {
		return rt.Fail(dbc, domain.StageGenerateArtifact, err)
	}
	return rt.Succeed(dbc, "template fill completed")
}
