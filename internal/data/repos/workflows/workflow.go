package workflows

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

type WorkflowRepo interface {
	Upsert(dbc dbctx.Context, w *domain.Workflow) (*domain.Workflow, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Workflow, error)
	GetByName(dbc dbctx.Context, name string) (*domain.Workflow, error)
	List(dbc dbctx.Context) ([]*domain.Workflow, error)
}

type workflowRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWorkflowRepo(db *gorm.DB, baseLog *logger.Logger) WorkflowRepo {
	return &workflowRepo{db: db, log: baseLog.With("repo", "WorkflowRepo")}
}

func (r *workflowRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

// Upsert syncs a YAML-defined workflow into the table, keyed by name.
func (r *workflowRepo) Upsert(dbc dbctx.Context, w *domain.Workflow) (*domain.Workflow, error) {
	if w == nil || w.Name == "" {
		return nil, apierr.ErrInvalidArgument
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"category", "prompt_template", "variables_schema", "output_schema",
				"output_format", "min_documents", "max_documents", "retrieval_spec", "updated_at",
			}),
		}).
		Create(w).Error
	if err != nil {
		return nil, err
	}
	return r.GetByName(dbc, w.Name)
}

func (r *workflowRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Workflow, error) {
	var w domain.Workflow
	err := r.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *workflowRepo) GetByName(dbc dbctx.Context, name string) (*domain.Workflow, error) {
	var w domain.Workflow
	err := r.tx(dbc).WithContext(dbc.Ctx).Where("name = ?", name).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *workflowRepo) List(dbc dbctx.Context) ([]*domain.Workflow, error) {
	var out []*domain.Workflow
	err := r.tx(dbc).WithContext(dbc.Ctx).Order("name ASC").Find(&out).Error
	return out, err
}

type WorkflowRunRepo interface {
	Create(dbc dbctx.Context, run *domain.WorkflowRun) (*domain.WorkflowRun, error)
	GetByID(dbc dbctx.Context, tenantID, id uuid.UUID) (*domain.WorkflowRun, error)
	ListByUser(dbc dbctx.Context, tenantID, userID uuid.UUID, limit int) ([]*domain.WorkflowRun, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type workflowRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWorkflowRunRepo(db *gorm.DB, baseLog *logger.Logger) WorkflowRunRepo {
	return &workflowRunRepo{db: db, log: baseLog.With("repo", "WorkflowRunRepo")}
}

func (r *workflowRunRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *workflowRunRepo) Create(dbc dbctx.Context, run *domain.WorkflowRun) (*domain.WorkflowRun, error) {
	if run == nil {
		return nil, apierr.ErrInvalidArgument
	}
	if run.Status == "" {
		run.Status = domain.StatusQueued
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *workflowRunRepo) GetByID(dbc dbctx.Context, tenantID, id uuid.UUID) (*domain.WorkflowRun, error) {
	var run domain.WorkflowRun
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *workflowRunRepo) ListByUser(dbc dbctx.Context, tenantID, userID uuid.UUID, limit int) ([]*domain.WorkflowRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*domain.WorkflowRun
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *workflowRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.WorkflowRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}
