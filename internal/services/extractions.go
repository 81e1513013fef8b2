package services

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	documentsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/documents"
	extractionsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/extractions"
	jobsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/jobs"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/jobs"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

type ExtractionService interface {
	Create(dbc dbctx.Context, actor Actor, documentID uuid.UUID, docContext string, schema map[string]any) (*domain.Extraction, *domain.Job, error)
	Get(dbc dbctx.Context, actor Actor, id uuid.UUID) (*domain.Extraction, error)
	List(dbc dbctx.Context, actor Actor, limit int) ([]*domain.Extraction, error)
}

type extractionService struct {
	log      *logger.Logger
	extrRepo extractionsrepo.ExtractionRepo
	docs     documentsrepo.DocumentRepo
	jobRepo  jobsrepo.JobRepo
}

func NewExtractionService(
	baseLog *logger.Logger,
	extractionRepo extractionsrepo.ExtractionRepo,
	docRepo documentsrepo.DocumentRepo,
	jobRepo jobsrepo.JobRepo,
) ExtractionService {
	return &extractionService{
		log:      baseLog.With("service", "ExtractionService"),
		extrRepo: extractionRepo,
		docs:     docRepo,
		jobRepo:  jobRepo,
	}
}

// Create queues a structured extraction against an indexed document. A nil
// schema falls back to the default financial schema at pipeline time.
func (s *extractionService) Create(dbc dbctx.Context, actor Actor, documentID uuid.UUID, docContext string, schema map[string]any) (*domain.Extraction, *domain.Job, error) {
	if !actor.Valid() {
		return nil, nil, apierr.ErrInvalidArgument
	}
	doc, err := s.docs.GetByID(dbc, actor.TenantID, documentID)
	if err != nil {
		return nil, nil, err
	}
	if doc.Status != domain.StatusCompleted {
		return nil, nil, apierr.Newf(apierr.KindValidation, "", false,
			"document %s is %s; index it before extracting", doc.ID, doc.Status)
	}

	ext, err := s.extrRepo.Create(dbc, &domain.Extraction{
		TenantID:   actor.TenantID,
		UserID:     actor.UserID,
		DocumentID: &doc.ID,
		Context:    strings.TrimSpace(docContext),
		Pages:      doc.PageCount,
		ParserUsed: doc.ParserUsed,
		Status:     domain.StatusQueued,
	})
	if err != nil {
		return nil, nil, err
	}

	payload, err := json.Marshal(jobs.ExtractionPayload{Schema: schema})
	if err != nil {
		return nil, nil, err
	}
	job, err := s.jobRepo.Create(dbc, &domain.Job{
		TenantID:     actor.TenantID,
		UserID:       actor.UserID,
		JobType:      jobs.TypeExtraction,
		ExtractionID: &ext.ID,
		Status:       domain.StatusQueued,
		Payload:      datatypes.JSON(payload),
	})
	if err != nil {
		return nil, nil, err
	}
	s.log.Info("extraction queued",
		"extraction_id", ext.ID.String(), "document_id", doc.ID.String(), "job_id", job.ID.String())
	return ext, job, nil
}

func (s *extractionService) Get(dbc dbctx.Context, actor Actor, id uuid.UUID) (*domain.Extraction, error) {
	return s.extrRepo.GetByID(dbc, actor.TenantID, id)
}

func (s *extractionService) List(dbc dbctx.Context, actor Actor, limit int) ([]*domain.Extraction, error) {
	return s.extrRepo.ListByUser(dbc, actor.TenantID, actor.UserID, limit)
}
