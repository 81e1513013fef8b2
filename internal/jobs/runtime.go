package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/docmindhq/docmind-backend/internal/data/repos/jobs"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/blobstore"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
	"github.com/docmindhq/docmind-backend/internal/platform/redisbus"
)

// Runtime wraps one claimed job for the duration of its handler: progress
// reporting, durable artifacts, and terminal transitions all go through it.
type Runtime struct {
	log   *logger.Logger
	repo  jobs.JobRepo
	bus   redisbus.ProgressBus // may be nil
	blobs blobstore.Backend

	job          *domain.Job
	lastProgress int
}

func NewRuntime(log *logger.Logger, repo jobs.JobRepo, bus redisbus.ProgressBus, blobs blobstore.Backend, job *domain.Job) *Runtime {
	return &Runtime{
		log:          log.With("job_id", job.ID.String(), "job_type", job.JobType),
		repo:         repo,
		bus:          bus,
		blobs:        blobs,
		job:          job,
		lastProgress: job.ProgressPercent,
	}
}

func (rt *Runtime) Job() *domain.Job        { return rt.job }
func (rt *Runtime) Log() *logger.Logger     { return rt.log }
func (rt *Runtime) Blobs() blobstore.Backend { return rt.blobs }

// DecodePayload unmarshals the job payload into v.
func (rt *Runtime) DecodePayload(v any) error {
	if len(rt.job.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(rt.job.Payload, v); err != nil {
		return apierr.New(apierr.KindValidation, rt.job.CurrentStage, false, fmt.Errorf("job payload: %w", err))
	}
	return nil
}

// Progress reports stage progress. Percent is monotone within a job: a late
// or duplicate update can never move the bar backwards.
func (rt *Runtime) Progress(dbc dbctx.Context, stage string, percent int, message string) {
	if percent < rt.lastProgress {
		percent = rt.lastProgress
	}
	rt.lastProgress = percent
	rt.job.CurrentStage = stage

	err := rt.repo.UpdateFields(dbc, rt.job.ID, map[string]interface{}{
		"current_stage":    stage,
		"progress_percent": percent,
		"message":          message,
	})
	if err != nil {
		rt.log.Warn("progress update failed", "stage", stage, "error", err)
	}
	rt.publish(dbc.Ctx, redisbus.ProgressEvent{
		JobID:    rt.job.ID,
		Stage:    stage,
		Progress: percent,
		Status:   domain.StatusProcessing,
		Message:  message,
	})
}

// StageDone flips a per-stage completion flag, optionally recording the
// artifact path column for resume.
func (rt *Runtime) StageDone(dbc dbctx.Context, updates map[string]interface{}) error {
	return rt.repo.UpdateFields(dbc, rt.job.ID, updates)
}

// SaveArtifact persists an intermediate artifact under the job's tenant
// prefix and returns its key.
func (rt *Runtime) SaveArtifact(ctx context.Context, name string, data []byte) (string, error) {
	key := blobstore.Key(blobstore.PrefixArtifacts, rt.job.TenantID.String(), rt.job.ID.String(), name)
	if err := rt.blobs.Upload(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", apierr.New(apierr.KindStorage, rt.job.CurrentStage, true, err)
	}
	return key, nil
}

func (rt *Runtime) LoadArtifact(ctx context.Context, key string) ([]byte, error) {
	rc, err := rt.blobs.Download(ctx, key)
	if err != nil {
		return nil, apierr.New(apierr.KindStorage, rt.job.CurrentStage, true, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Succeed marks the job completed and emits the terminal progress event.
func (rt *Runtime) Succeed(dbc dbctx.Context, message string) error {
	if err := rt.repo.MarkCompleted(dbc, rt.job.ID, message); err != nil {
		return err
	}
	rt.publish(dbc.Ctx, redisbus.ProgressEvent{
		JobID:    rt.job.ID,
		Stage:    rt.job.CurrentStage,
		Progress: 100,
		Status:   domain.StatusCompleted,
		Message:  message,
	})
	return nil
}

// Fail records the classified error on the ledger and emits an error event.
// The returned error is the classified form for the worker log.
func (rt *Runtime) Fail(dbc dbctx.Context, stage string, cause error) error {
	classified := apierr.Classify(stage, cause)
	if err := rt.repo.MarkFailed(dbc, rt.job.ID, stage, classified.Error(), string(apierr.KindOf(classified)), apierr.IsRetryable(classified)); err != nil {
		rt.log.Error("mark failed errored", "stage", stage, "error", err)
	}
	rt.publish(dbc.Ctx, redisbus.ProgressEvent{
		JobID:    rt.job.ID,
		Stage:    stage,
		Progress: rt.lastProgress,
		Status:   domain.StatusFailed,
		Message:  classified.Error(),
		Detail: map[string]any{
			"error_type":   string(apierr.KindOf(classified)),
			"is_retryable": apierr.IsRetryable(classified),
		},
	})
	return classified
}

func (rt *Runtime) publish(ctx context.Context, ev redisbus.ProgressEvent) {
	if rt.bus == nil {
		return
	}
	if err := rt.bus.Publish(ctx, ev); err != nil {
		rt.log.Warn("progress publish failed", "stage", ev.Stage, "error", err)
	}
}
