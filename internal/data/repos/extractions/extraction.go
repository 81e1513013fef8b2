package extractions

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

type ExtractionRepo interface {
	Create(dbc dbctx.Context, e *domain.Extraction) (*domain.Extraction, error)
	GetByID(dbc dbctx.Context, tenantID, id uuid.UUID) (*domain.Extraction, error)
	ListByUser(dbc dbctx.Context, tenantID, userID uuid.UUID, limit int) ([]*domain.Extraction, error)
	LatestCompletedByDocument(dbc dbctx.Context, tenantID, documentID uuid.UUID) (*domain.Extraction, error)
	MarkCompleted(dbc dbctx.Context, id uuid.UUID, result datatypes.JSON, tokens int, cost float64) error
	MarkFailed(dbc dbctx.Context, id uuid.UUID, message string) error
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type extractionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewExtractionRepo(db *gorm.DB, baseLog *logger.Logger) ExtractionRepo {
	return &extractionRepo{db: db, log: baseLog.With("repo", "ExtractionRepo")}
}

func (r *extractionRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *extractionRepo) Create(dbc dbctx.Context, e *domain.Extraction) (*domain.Extraction, error) {
	if e == nil {
		return nil, apierr.ErrInvalidArgument
	}
	if e.Status == "" {
		e.Status = domain.StatusQueued
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(e).Error; err != nil {
		return nil, err
	}
	return e, nil
}

func (r *extractionRepo) GetByID(dbc dbctx.Context, tenantID, id uuid.UUID) (*domain.Extraction, error) {
	var e domain.Extraction
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *extractionRepo) ListByUser(dbc dbctx.Context, tenantID, userID uuid.UUID, limit int) ([]*domain.Extraction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*domain.Extraction
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// LatestCompletedByDocument returns the newest completed extraction for a
// document, or apierr.ErrNotFound when none exists. Fact-based comparison
// prompts read extracted facts through this.
func (r *extractionRepo) LatestCompletedByDocument(dbc dbctx.Context, tenantID, documentID uuid.UUID) (*domain.Extraction, error) {
	var e domain.Extraction
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ? AND document_id = ? AND status = ?", tenantID, documentID, domain.StatusCompleted).
		Order("created_at DESC").
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *extractionRepo) MarkCompleted(dbc dbctx.Context, id uuid.UUID, result datatypes.JSON, tokens int, cost float64) error {
	return r.UpdateFields(dbc, id, map[string]interface{}{
		"status": domain.StatusCompleted,
		"result": result,
		"tokens": tokens,
		"cost":   cost,
	})
}

func (r *extractionRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, message string) error {
	if len(message) > 500 {
		message = message[:500]
	}
	return r.UpdateFields(dbc, id, map[string]interface{}{
		"status":  domain.StatusFailed,
		"context": message,
	})
}

func (r *extractionRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Extraction{}).
		Where("id = ?", id).
		Updates(updates).Error
}
