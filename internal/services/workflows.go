package services

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	documentsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/documents"
	jobsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/jobs"
	workflowsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/workflows"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/jobs"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

// RunRequest starts a workflow over an ordered document set; the order fixes
// the [D{n}:p{page}] citation indexes.
type RunRequest struct {
	WorkflowID  uuid.UUID      `json:"workflow_id"`
	DocumentIDs []uuid.UUID    `json:"document_ids"`
	Variables   map[string]any `json:"variables,omitempty"`
}

type WorkflowService interface {
	List(dbc dbctx.Context) ([]*domain.Workflow, error)
	Get(dbc dbctx.Context, id uuid.UUID) (*domain.Workflow, error)
	Run(dbc dbctx.Context, actor Actor, req RunRequest) (*domain.WorkflowRun, *domain.Job, error)
	GetRun(dbc dbctx.Context, actor Actor, id uuid.UUID) (*domain.WorkflowRun, error)
	ListRuns(dbc dbctx.Context, actor Actor, limit int) ([]*domain.WorkflowRun, error)
}

type workflowService struct {
	log     *logger.Logger
	wfRepo  workflowsrepo.WorkflowRepo
	runRepo workflowsrepo.WorkflowRunRepo
	docs    documentsrepo.DocumentRepo
	jobRepo jobsrepo.JobRepo
}

func NewWorkflowService(
	baseLog *logger.Logger,
	wfRepo workflowsrepo.WorkflowRepo,
	runRepo workflowsrepo.WorkflowRunRepo,
	docRepo documentsrepo.DocumentRepo,
	jobRepo jobsrepo.JobRepo,
) WorkflowService {
	return &workflowService{
		log:     baseLog.With("service", "WorkflowService"),
		wfRepo:  wfRepo,
		runRepo: runRepo,
		docs:    docRepo,
		jobRepo: jobRepo,
	}
}

func (s *workflowService) List(dbc dbctx.Context) ([]*domain.Workflow, error) {
	return s.wfRepo.List(dbc)
}

func (s *workflowService) Get(dbc dbctx.Context, id uuid.UUID) (*domain.Workflow, error) {
	return s.wfRepo.GetByID(dbc, id)
}

// Run validates the document set against the workflow's bounds and indexing
// state, then persists the run and queues its job.
func (s *workflowService) Run(dbc dbctx.Context, actor Actor, req RunRequest) (*domain.WorkflowRun, *domain.Job, error) {
	if !actor.Valid() {
		return nil, nil, apierr.ErrInvalidArgument
	}
	wf, err := s.wfRepo.GetByID(dbc, req.WorkflowID)
	if err != nil {
		return nil, nil, err
	}
	ids := dedupe(req.DocumentIDs)
	if len(ids) < wf.MinDocuments || len(ids) > wf.MaxDocuments {
		return nil, nil, apierr.Newf(apierr.KindValidation, "", false,
			"workflow %s requires between %d and %d documents, got %d",
			wf.Name, wf.MinDocuments, wf.MaxDocuments, len(ids))
	}
	docs, err := s.docs.GetByIDs(dbc, actor.TenantID, ids)
	if err != nil {
		return nil, nil, err
	}
	if len(docs) != len(ids) {
		return nil, nil, fmt.Errorf("%w: one or more documents not found", apierr.ErrNotFound)
	}
	for _, d := range docs {
		if d.Status != domain.StatusCompleted {
			return nil, nil, apierr.Newf(apierr.KindValidation, "", false,
				"document %s is %s; index it before running a workflow", d.ID, d.Status)
		}
	}

	docsJSON, err := json.Marshal(ids)
	if err != nil {
		return nil, nil, err
	}
	run := &domain.WorkflowRun{
		WorkflowID:  wf.ID,
		TenantID:    actor.TenantID,
		UserID:      actor.UserID,
		DocumentIDs: datatypes.JSON(docsJSON),
		Status:      domain.StatusQueued,
	}
	if len(req.Variables) > 0 {
		raw, err := json.Marshal(req.Variables)
		if err != nil {
			return nil, nil, err
		}
		run.Variables = datatypes.JSON(raw)
	}
	run, err = s.runRepo.Create(dbc, run)
	if err != nil {
		return nil, nil, err
	}

	job, err := s.jobRepo.Create(dbc, &domain.Job{
		TenantID:      actor.TenantID,
		UserID:        actor.UserID,
		JobType:       jobs.TypeWorkflowRun,
		WorkflowRunID: &run.ID,
		Status:        domain.StatusQueued,
	})
	if err != nil {
		return nil, nil, err
	}
	s.log.Info("workflow run queued",
		"workflow", wf.Name, "run_id", run.ID.String(),
		"job_id", job.ID.String(), "documents", len(ids))
	return run, job, nil
}

func (s *workflowService) GetRun(dbc dbctx.Context, actor Actor, id uuid.UUID) (*domain.WorkflowRun, error) {
	return s.runRepo.GetByID(dbc, actor.TenantID, id)
}

func (s *workflowService) ListRuns(dbc dbctx.Context, actor Actor, limit int) ([]*domain.WorkflowRun, error) {
	return s.runRepo.ListByUser(dbc, actor.TenantID, actor.UserID, limit)
}
