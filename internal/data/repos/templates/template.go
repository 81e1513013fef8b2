package templates

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

type TemplateRepo interface {
	Create(dbc dbctx.Context, t *domain.Template) (*domain.Template, error)
	GetByID(dbc dbctx.Context, tenantID, id uuid.UUID) (*domain.Template, error)
	CreateFillRun(dbc dbctx.Context, run *domain.TemplateFillRun) (*domain.TemplateFillRun, error)
	GetFillRun(dbc dbctx.Context, tenantID, id uuid.UUID) (*domain.TemplateFillRun, error)
	TransitionFillRun(dbc dbctx.Context, id uuid.UUID, to string, updates map[string]interface{}) error
}

type templateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTemplateRepo(db *gorm.DB, baseLog *logger.Logger) TemplateRepo {
	return &templateRepo{db: db, log: baseLog.With("repo", "TemplateRepo")}
}

func (r *templateRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *templateRepo) Create(dbc dbctx.Context, t *domain.Template) (*domain.Template, error) {
	if t == nil {
		return nil, apierr.ErrInvalidArgument
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

func (r *templateRepo) GetByID(dbc dbctx.Context, tenantID, id uuid.UUID) (*domain.Template, error) {
	var t domain.Template
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *templateRepo) CreateFillRun(dbc dbctx.Context, run *domain.TemplateFillRun) (*domain.TemplateFillRun, error) {
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

func (r *templateRepo) GetFillRun(dbc dbctx.Context, tenantID, id uuid.UUID) (*domain.TemplateFillRun, error) {
	var run domain.TemplateFillRun
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

// TransitionFillRun enforces the review-loop status machine before applying
// the transition.
func (r *templateRepo) TransitionFillRun(dbc dbctx.Context, id uuid.UUID, to string, updates map[string]interface{}) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var run domain.TemplateFillRun
		if err := txx.Where("id = ?", id).First(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apierr.ErrNotFound
			}
			return err
		}
		if !domain.ValidFillTransition(run.Status, to) {
			return fmt.Errorf("%w: fill run transition %s -> %s", apierr.ErrInvalidArgument, run.Status, to)
		}
		if updates == nil {
			updates = map[string]interface{}{}
		}
		updates["status"] = to
		updates["updated_at"] = time.Now()
		return txx.Model(&domain.TemplateFillRun{}).
			Where("id = ?", id).
			Updates(updates).Error
	})
}
