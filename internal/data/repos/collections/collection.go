package collections

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

type CollectionRepo interface {
	Create(dbc dbctx.Context, col *domain.Collection) (*domain.Collection, error)
	GetByID(dbc dbctx.Context, tenantID, id uuid.UUID) (*domain.Collection, error)
	ListByUser(dbc dbctx.Context, tenantID, userID uuid.UUID) ([]*domain.Collection, error)
	LinkDocument(dbc dbctx.Context, collectionID, documentID uuid.UUID) error
	UnlinkDocument(dbc dbctx.Context, collectionID, documentID uuid.UUID) error
	DocumentIDs(dbc dbctx.Context, collectionID uuid.UUID) ([]uuid.UUID, error)
	CollectionsByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]uuid.UUID, error)
	RecomputeCounters(dbc dbctx.Context, collectionID uuid.UUID) error
	Delete(dbc dbctx.Context, tenantID, id uuid.UUID) error
}

type collectionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCollectionRepo(db *gorm.DB, baseLog *logger.Logger) CollectionRepo {
	return &collectionRepo{db: db, log: baseLog.With("repo", "CollectionRepo")}
}

func (r *collectionRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *collectionRepo) Create(dbc dbctx.Context, col *domain.Collection) (*domain.Collection, error) {
	if col == nil {
		return nil, apierr.ErrInvalidArgument
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(col).Error; err != nil {
		return nil, err
	}
	return col, nil
}

func (r *collectionRepo) GetByID(dbc dbctx.Context, tenantID, id uuid.UUID) (*domain.Collection, error) {
	var col domain.Collection
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&col).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &col, nil
}

func (r *collectionRepo) ListByUser(dbc dbctx.Context, tenantID, userID uuid.UUID) ([]*domain.Collection, error) {
	var out []*domain.Collection
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// LinkDocument is idempotent and recomputes the collection counters inside
// the same transaction (counters are never incremented application-side).
func (r *collectionRepo) LinkDocument(dbc dbctx.Context, collectionID, documentID uuid.UUID) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		edge := &domain.CollectionDocument{
			CollectionID: collectionID,
			DocumentID:   documentID,
			LinkedAt:     time.Now(),
		}
		if err := txx.Clauses(clause.OnConflict{DoNothing: true}).Create(edge).Error; err != nil {
			return err
		}
		return recompute(txx, collectionID)
	})
}

func (r *collectionRepo) UnlinkDocument(dbc dbctx.Context, collectionID, documentID uuid.UUID) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Where("collection_id = ? AND document_id = ?", collectionID, documentID).
			Delete(&domain.CollectionDocument{}).Error; err != nil {
			return err
		}
		return recompute(txx, collectionID)
	})
}

func (r *collectionRepo) DocumentIDs(dbc dbctx.Context, collectionID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.CollectionDocument{}).
		Where("collection_id = ?", collectionID).
		Order("linked_at ASC").
		Pluck("document_id", &ids).Error
	return ids, err
}

func (r *collectionRepo) CollectionsByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.CollectionDocument{}).
		Where("document_id = ?", documentID).
		Pluck("collection_id", &ids).Error
	return ids, err
}

func (r *collectionRepo) RecomputeCounters(dbc dbctx.Context, collectionID uuid.UUID) error {
	return recompute(r.tx(dbc).WithContext(dbc.Ctx), collectionID)
}

// Recompute rewrites a collection's counters from the membership and chunk
// aggregates. Callers holding a transaction pass it in so counters move with
// the membership change they cover.
func Recompute(txx *gorm.DB, collectionID uuid.UUID) error {
	return recompute(txx, collectionID)
}

func recompute(txx *gorm.DB, collectionID uuid.UUID) error {
	return txx.Model(&domain.Collection{}).
		Where("id = ?", collectionID).
		Updates(map[string]interface{}{
			"document_count": gorm.Expr(
				`(SELECT COUNT(*) FROM collection_document WHERE collection_id = ?)`, collectionID),
			"total_chunks": gorm.Expr(
				`(SELECT COUNT(*) FROM chunk WHERE document_id IN
					(SELECT document_id FROM collection_document WHERE collection_id = ?))`, collectionID),
			"updated_at": time.Now(),
		}).Error
}

func (r *collectionRepo) Delete(dbc dbctx.Context, tenantID, id uuid.UUID) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		res := txx.Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&domain.Collection{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apierr.ErrNotFound
		}
		return txx.Where("collection_id = ?", id).Delete(&domain.CollectionDocument{}).Error
	})
}
