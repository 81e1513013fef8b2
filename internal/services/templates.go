package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	documentsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/documents"
	jobsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/jobs"
	templatesrepo "github.com/docmindhq/docmind-backend/internal/data/repos/templates"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/jobs"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/blobstore"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

type TemplateService interface {
	Upload(dbc dbctx.Context, actor Actor, name, filename string, data []byte, fieldCount int) (*domain.Template, error)
	Get(dbc dbctx.Context, actor Actor, id uuid.UUID) (*domain.Template, error)

	CreateFillRun(dbc dbctx.Context, actor Actor, templateID, documentID uuid.UUID) (*domain.TemplateFillRun, *domain.Job, error)
	GetFillRun(dbc dbctx.Context, actor Actor, id uuid.UUID) (*domain.TemplateFillRun, error)

	// ReviewFillRun closes the human review gate: approval (optionally with
	// edited field values) requeues the parked job for the render phase,
	// rejection fails the run.
	ReviewFillRun(dbc dbctx.Context, actor Actor, id uuid.UUID, approved bool, edits map[string]any) (*domain.TemplateFillRun, error)
}

type templateService struct {
	log      *logger.Logger
	tmplRepo templatesrepo.TemplateRepo
	docs     documentsrepo.DocumentRepo
	jobRepo  jobsrepo.JobRepo
	blobs    blobstore.Backend
}

func NewTemplateService(
	baseLog *logger.Logger,
	templateRepo templatesrepo.TemplateRepo,
	docRepo documentsrepo.DocumentRepo,
	jobRepo jobsrepo.JobRepo,
	blobs blobstore.Backend,
) TemplateService {
	return &templateService{
		log:      baseLog.With("service", "TemplateService"),
		tmplRepo: templateRepo,
		docs:     docRepo,
		jobRepo:  jobRepo,
		blobs:    blobs,
	}
}

func (s *templateService) Upload(dbc dbctx.Context, actor Actor, name, filename string, data []byte, fieldCount int) (*domain.Template, error) {
	if !actor.Valid() {
		return nil, apierr.ErrInvalidArgument
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apierr.Newf(apierr.KindValidation, "", false, "template name required")
	}
	if len(data) == 0 {
		return nil, apierr.Newf(apierr.KindValidation, "", false, "empty template upload")
	}

	id := uuid.New()
	filename = filepath.Base(strings.TrimSpace(filename))
	key := blobstore.Key(blobstore.PrefixTemplates, actor.TenantID.String(), id.String(), filename)
	if err := s.blobs.Upload(dbc.Ctx, key, bytes.NewReader(data), "application/octet-stream"); err != nil {
		return nil, apierr.New(apierr.KindStorage, "", true, err)
	}
	return s.tmplRepo.Create(dbc, &domain.Template{
		ID:         id,
		TenantID:   actor.TenantID,
		UserID:     actor.UserID,
		Name:       name,
		FilePath:   key,
		FieldCount: fieldCount,
	})
}

func (s *templateService) Get(dbc dbctx.Context, actor Actor, id uuid.UUID) (*domain.Template, error) {
	return s.tmplRepo.GetByID(dbc, actor.TenantID, id)
}

func (s *templateService) CreateFillRun(dbc dbctx.Context, actor Actor, templateID, documentID uuid.UUID) (*domain.TemplateFillRun, *domain.Job, error) {
	if !actor.Valid() {
		return nil, nil, apierr.ErrInvalidArgument
	}
	tmpl, err := s.tmplRepo.GetByID(dbc, actor.TenantID, templateID)
	if err != nil {
		return nil, nil, err
	}
	doc, err := s.docs.GetByID(dbc, actor.TenantID, documentID)
	if err != nil {
		return nil, nil, err
	}
	if doc.Status != domain.StatusCompleted {
		return nil, nil, apierr.Newf(apierr.KindValidation, "", false,
			"document %s is %s; index it before filling", doc.ID, doc.Status)
	}

	run, err := s.tmplRepo.CreateFillRun(dbc, &domain.TemplateFillRun{
		TemplateID: tmpl.ID,
		TenantID:   actor.TenantID,
		UserID:     actor.UserID,
		DocumentID: &doc.ID,
		Status:     domain.StatusQueued,
	})
	if err != nil {
		return nil, nil, err
	}
	job, err := s.jobRepo.Create(dbc, &domain.Job{
		TenantID:          actor.TenantID,
		UserID:            actor.UserID,
		JobType:           jobs.TypeTemplateFill,
		TemplateFillRunID: &run.ID,
		Status:            domain.StatusQueued,
	})
	if err != nil {
		return nil, nil, err
	}
	s.log.Info("template fill queued",
		"template_id", tmpl.ID.String(), "run_id", run.ID.String(), "job_id", job.ID.String())
	return run, job, nil
}

func (s *templateService) GetFillRun(dbc dbctx.Context, actor Actor, id uuid.UUID) (*domain.TemplateFillRun, error) {
	return s.tmplRepo.GetFillRun(dbc, actor.TenantID, id)
}

func (s *templateService) ReviewFillRun(dbc dbctx.Context, actor Actor, id uuid.UUID, approved bool, edits map[string]any) (*domain.TemplateFillRun, error) {
	run, err := s.tmplRepo.GetFillRun(dbc, actor.TenantID, id)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.StatusAwaitingReview {
		return nil, fmt.Errorf("%w: fill run is %s, not awaiting review", apierr.ErrInvalidArgument, run.Status)
	}
	job, err := s.jobRepo.GetByFillRun(dbc, run.ID)
	if err != nil {
		return nil, err
	}

	if !approved {
		if err := s.tmplRepo.TransitionFillRun(dbc, run.ID, domain.StatusFailed, nil); err != nil {
			return nil, err
		}
		if err := s.jobRepo.MarkFailed(dbc, job.ID, domain.StageGenerateArtifact,
			"fill rejected in review", string(apierr.KindValidation), false); err != nil {
			s.log.Warn("job fail update errored", "job_id", job.ID.String(), "error", err)
		}
		return s.tmplRepo.GetFillRun(dbc, actor.TenantID, id)
	}

	values := map[string]any{}
	if len(run.FieldValues) > 0 {
		if err := json.Unmarshal(run.FieldValues, &values); err != nil {
			return nil, err
		}
	}
	for k, v := range edits {
		values[k] = v
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}

	// Moving to processing with field values set signals the worker to run
	// the render phase when the requeued job is claimed.
	if err := s.tmplRepo.TransitionFillRun(dbc, run.ID, domain.StatusProcessing, map[string]interface{}{
		"field_values": datatypes.JSON(raw),
	}); err != nil {
		return nil, err
	}
	if err := s.jobRepo.UpdateFields(dbc, job.ID, map[string]interface{}{
		"status":       domain.StatusQueued,
		"locked_at":    nil,
		"heartbeat_at": nil,
		"message":      "review approved, rendering output",
	}); err != nil {
		return nil, err
	}
	s.log.Info("fill run approved", "run_id", run.ID.String(), "job_id", job.ID.String(), "fields", len(values))
	return s.tmplRepo.GetFillRun(dbc, actor.TenantID, id)
}
