package feedback

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

type FeedbackRepo interface {
	Create(dbc dbctx.Context, f *domain.Feedback) (*domain.Feedback, error)
	ListByUser(dbc dbctx.Context, tenantID, userID uuid.UUID, limit int) ([]*domain.Feedback, error)
}

type feedbackRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFeedbackRepo(db *gorm.DB, baseLog *logger.Logger) FeedbackRepo {
	return &feedbackRepo{db: db, log: baseLog.With("repo", "FeedbackRepo")}
}

func (r *feedbackRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *feedbackRepo) Create(dbc dbctx.Context, f *domain.Feedback) (*domain.Feedback, error) {
	if f == nil {
		return nil, apierr.ErrInvalidArgument
	}
	if n := f.OwnerCount(); n != 1 {
		return nil, fmt.Errorf("%w: feedback requires exactly one operation entity, got %d", apierr.ErrInvalidArgument, n)
	}
	if f.Rating < 1 || f.Rating > 5 {
		return nil, fmt.Errorf("%w: rating out of range", apierr.ErrInvalidArgument)
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(f).Error; err != nil {
		return nil, err
	}
	return f, nil
}

func (r *feedbackRepo) ListByUser(dbc dbctx.Context, tenantID, userID uuid.UUID, limit int) ([]*domain.Feedback, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*domain.Feedback
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
