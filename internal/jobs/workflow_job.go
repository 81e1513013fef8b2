package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
)

// HandleWorkflowRun executes a workflow run end to end: per-section
// retrieval, direct or map-reduce synthesis, normalization, and citation
// validation. The run row carries the artifact; the job ledger carries
// progress and the durable artifact copy.
func (p *Pipelines) HandleWorkflowRun(dbc dbctx.Context, rt *Runtime) error {
	job := rt.Job()
	if job.WorkflowRunID == nil {
		return rt.Fail(dbc, domain.StagePrepareContext, fmt.Errorf("workflow job without workflow_run_id"))
	}
	run, err := p.runRepo.GetByID(dbc, job.TenantID, *job.WorkflowRunID)
	if err != nil {
		return rt.Fail(dbc, domain.StagePrepareContext, err)
	}
	wf, err := p.wfRepo.GetByID(dbc, run.WorkflowID)
	if err != nil {
		return rt.Fail(dbc, domain.StagePrepareContext, err)
	}

	if err := p.runRepo.UpdateFields(dbc, run.ID, map[string]interface{}{
		"status": domain.StatusProcessing,
	}); err != nil {
		rt.Log().Warn("run status update failed", "error", err)
	}
	rt.Progress(dbc, domain.StagePrepareContext, 10, "retrieving section context")

	res, err := p.engine.Execute(dbc, wf, run)
	if err != nil {
		p.markRunFailed(dbc, run.ID, err)
		return rt.Fail(dbc, domain.StageGenerateArtifact, err)
	}
	rt.Progress(dbc, domain.StageGenerateArtifact, 90, "persisting artifact")

	artifactJSON, err := json.Marshal(res.Artifact)
	if err != nil {
		return rt.Fail(dbc, domain.StageGenerateArtifact, err)
	}
	artifactKey, err := rt.SaveArtifact(dbc.Ctx, "artifact.json", artifactJSON)
	if err != nil {
		return rt.Fail(dbc, domain.StageGenerateArtifact, err)
	}
	if err := rt.StageDone(dbc, map[string]interface{}{
		"synthesis_completed": true,
		"raw_response_path":   artifactKey,
	}); err != nil {
		rt.Log().Warn("stage flag update failed", "error", err)
	}

	updates := map[string]interface{}{
		"status":          domain.StatusCompleted,
		"mode":            res.Mode,
		"artifact":        datatypes.JSON(artifactJSON),
		"token_usage":     res.TokenUsage,
		"cost":            p.costOf(res.TokenUsage),
		"citations_count": res.CitationsCount,
	}
	if len(res.SectionSummaries) > 0 {
		if raw, err := json.Marshal(res.SectionSummaries); err == nil {
			updates["section_summaries"] = datatypes.JSON(raw)
		}
	}
	if len(res.ValidationErrors) > 0 {
		if raw, err := json.Marshal(res.ValidationErrors); err == nil {
			updates["validation_errors"] = datatypes.JSON(raw)
		}
	}
	if raw, err := json.Marshal(res.ContextStats); err == nil {
		updates["context_stats"] = datatypes.JSON(raw)
	}
	if err := p.runRepo.UpdateFields(dbc, run.ID, updates); err != nil {
		return rt.Fail(dbc, domain.StageGenerateArtifact, err)
	}

	msg := fmt.Sprintf("workflow %s completed via %s", wf.Name, res.Mode)
	if len(res.InvalidCitations) > 0 {
		msg += fmt.Sprintf(" with %d invalid citations", len(res.InvalidCitations))
	}
	return rt.Succeed(dbc, msg)
}

func (p *Pipelines) markRunFailed(dbc dbctx.Context, id uuid.UUID, cause error) {
	msg := cause.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	raw, _ := json.Marshal([]string{msg})
	if err := p.runRepo.UpdateFields(dbc, id, map[string]interface{}{
		"status":            domain.StatusFailed,
		"validation_errors": datatypes.JSON(raw),
	}); err != nil {
		p.log.Error("run mark failed errored", "run_id", id.String(), "error", err)
	}
}
