package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

// ErrNotResumable is returned by ResetForRetry when no durable upstream
// artifact is recorded for the failed stage.
var ErrNotResumable = errors.New("job is not resumable: no saved upstream artifact")

type JobRepo interface {
	Create(dbc dbctx.Context, job *domain.Job) (*domain.Job, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Job, error)
	GetByFillRun(dbc dbctx.Context, fillRunID uuid.UUID) (*domain.Job, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []string, updates map[string]interface{}) (bool, error)
	ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay, staleRunning time.Duration) (*domain.Job, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	MarkCompleted(dbc dbctx.Context, id uuid.UUID, message string) error
	MarkFailed(dbc dbctx.Context, id uuid.UUID, stage, message, errType string, retryable bool) error
	ResetForRetry(dbc dbctx.Context, id uuid.UUID) error
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{db: db, log: baseLog.With("repo", "JobRepo")}
}

func (r *jobRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

// Create enforces the exactly-one-owner invariant before the row ever
// reaches the database (the schema check constraint is the backstop).
func (r *jobRepo) Create(dbc dbctx.Context, job *domain.Job) (*domain.Job, error) {
	if job == nil {
		return nil, apierr.ErrInvalidArgument
	}
	if n := job.OwnerCount(); n != 1 {
		return nil, fmt.Errorf("%w: job must have exactly one owner, got %d", apierr.ErrInvalidArgument, n)
	}
	if job.Status == "" {
		job.Status = domain.StatusQueued
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Job, error) {
	var job domain.Job
	err := r.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetByFillRun returns the newest job owned by a template fill run; the
// review loop requeues this job after approval.
func (r *jobRepo) GetByFillRun(dbc dbctx.Context, fillRunID uuid.UUID) (*domain.Job, error) {
	var job domain.Job
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("template_fill_run_id = ?", fillRunID).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *jobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Job{}).
		Where("id = ?", id)
	if len(disallowed) == 1 {
		q = q.Where("status <> ?", disallowed[0])
	} else if len(disallowed) > 1 {
		q = q.Where("status NOT IN ?", disallowed)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ClaimNextRunnable picks up queued jobs plus stale running jobs whose
// heartbeat has lapsed, locking with SKIP LOCKED so workers never contend.
func (r *jobRepo) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay, staleRunning time.Duration) (*domain.Job, error) {
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)
	var claimed *domain.Job
	err := r.tx(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job domain.Job
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          status = ?
          OR (
            status = ?
            AND error_is_retryable = TRUE
            AND attempts < ?
            AND (last_error_at IS NULL OR last_error_at < ?)
          )
          OR (
            status = ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, domain.StatusQueued, domain.StatusFailed, maxAttempts, retryCutoff, domain.StatusProcessing, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&domain.Job{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       domain.StatusProcessing,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.StatusProcessing).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

func (r *jobRepo) MarkCompleted(dbc dbctx.Context, id uuid.UUID, message string) error {
	now := time.Now()
	return r.UpdateFields(dbc, id, map[string]interface{}{
		"status":           domain.StatusCompleted,
		"progress_percent": 100,
		"message":          message,
		"locked_at":        nil,
		"completed_at":     now,
	})
}

func (r *jobRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, stage, message, errType string, retryable bool) error {
	if len(message) > 500 {
		message = message[:500]
	}
	now := time.Now()
	return r.UpdateFields(dbc, id, map[string]interface{}{
		"status":             domain.StatusFailed,
		"error_stage":        stage,
		"error_message":      message,
		"error_type":         errType,
		"error_is_retryable": retryable,
		"last_error_at":      now,
		"locked_at":          nil,
	})
}

// ResetForRetry clears the error fields and requeues the job, but only when
// a resumable upstream artifact path is recorded for the failed stage.
func (r *jobRepo) ResetForRetry(dbc dbctx.Context, id uuid.UUID) error {
	job, err := r.GetByID(dbc, id)
	if err != nil {
		return err
	}
	if job.Status != domain.StatusFailed {
		return fmt.Errorf("%w: only failed jobs can be retried", apierr.ErrInvalidArgument)
	}
	if job.ResumeArtifactPath() == "" {
		return ErrNotResumable
	}
	return r.UpdateFields(dbc, id, map[string]interface{}{
		"status":             domain.StatusQueued,
		"error_stage":        "",
		"error_message":      "",
		"error_type":         "",
		"error_is_retryable": false,
		"locked_at":          nil,
		"heartbeat_at":       nil,
	})
}
