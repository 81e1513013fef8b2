package services

import (
	"fmt"

	"github.com/google/uuid"

	jobsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/jobs"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

type JobService interface {
	Get(dbc dbctx.Context, actor Actor, id uuid.UUID) (*domain.Job, error)
	// Retry requeues a failed job that has a resumable upstream artifact.
	Retry(dbc dbctx.Context, actor Actor, id uuid.UUID) (*domain.Job, error)
}

type jobService struct {
	log  *logger.Logger
	repo jobsrepo.JobRepo
}

func NewJobService(baseLog *logger.Logger, repo jobsrepo.JobRepo) JobService {
	return &jobService{
		log:  baseLog.With("service", "JobService"),
		repo: repo,
	}
}

// Get hides cross-tenant rows behind not-found rather than forbidden so job
// ids cannot be probed.
func (s *jobService) Get(dbc dbctx.Context, actor Actor, id uuid.UUID) (*domain.Job, error) {
	job, err := s.repo.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if job.TenantID != actor.TenantID {
		return nil, apierr.ErrNotFound
	}
	return job, nil
}

func (s *jobService) Retry(dbc dbctx.Context, actor Actor, id uuid.UUID) (*domain.Job, error) {
	job, err := s.Get(dbc, actor, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.StatusFailed {
		return nil, fmt.Errorf("%w: only failed jobs can be retried", apierr.ErrInvalidArgument)
	}
	if err := s.repo.ResetForRetry(dbc, job.ID); err != nil {
		return nil, err
	}
	s.log.Info("job requeued for retry", "job_id", job.ID.String(), "resume_from", job.ResumeArtifactPath())
	return s.repo.GetByID(dbc, job.ID)
}
