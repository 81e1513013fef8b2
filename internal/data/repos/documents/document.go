package documents

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/docmindhq/docmind-backend/internal/data/repos/collections"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

type DocumentRepo interface {
	Create(dbc dbctx.Context, doc *domain.Document) (*domain.Document, bool, error)
	GetByID(dbc dbctx.Context, tenantID, id uuid.UUID) (*domain.Document, error)
	GetByHash(dbc dbctx.Context, tenantID uuid.UUID, contentHash string) (*domain.Document, error)
	GetByIDs(dbc dbctx.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*domain.Document, error)
	ListByUser(dbc dbctx.Context, tenantID, userID uuid.UUID, limit, offset int) ([]*domain.Document, error)
	MarkCompleted(dbc dbctx.Context, id uuid.UUID, chunkCount, pageCount int, timeMs int64, parserUsed string) error
	MarkFailed(dbc dbctx.Context, id uuid.UUID, message string) error
	Delete(dbc dbctx.Context, tenantID, id uuid.UUID) error
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return &documentRepo{db: db, log: baseLog.With("repo", "DocumentRepo")}
}

func (r *documentRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

// Create inserts the document, or returns the existing row on a
// (tenant_id, content_hash) conflict. The bool reports whether a row was
// actually inserted.
func (r *documentRepo) Create(dbc dbctx.Context, doc *domain.Document) (*domain.Document, bool, error) {
	transaction := r.tx(dbc)
	if doc == nil {
		return nil, false, apierr.ErrInvalidArgument
	}
	res := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "content_hash"}},
			DoNothing: true,
		}).
		Create(doc)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return doc, true, nil
	}
	existing, err := r.GetByHash(dbc, doc.TenantID, doc.ContentHash)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *documentRepo) GetByID(dbc dbctx.Context, tenantID, id uuid.UUID) (*domain.Document, error) {
	var doc domain.Document
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) GetByHash(dbc dbctx.Context, tenantID uuid.UUID, contentHash string) (*domain.Document, error) {
	var doc domain.Document
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ? AND content_hash = ?", tenantID, contentHash).
		Limit(1).
		Find(&doc).Error
	if err != nil {
		return nil, err
	}
	if doc.ID == uuid.Nil {
		return nil, nil
	}
	return &doc, nil
}

func (r *documentRepo) GetByIDs(dbc dbctx.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*domain.Document, error) {
	var out []*domain.Document
	if len(ids) == 0 {
		return out, nil
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Find(&out).Error
	return out, err
}

func (r *documentRepo) ListByUser(dbc dbctx.Context, tenantID, userID uuid.UUID, limit, offset int) ([]*domain.Document, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*domain.Document
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&out).Error
	return out, err
}

func (r *documentRepo) MarkCompleted(dbc dbctx.Context, id uuid.UUID, chunkCount, pageCount int, timeMs int64, parserUsed string) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":             domain.StatusCompleted,
			"chunk_count":        chunkCount,
			"page_count":         pageCount,
			"processing_time_ms": timeMs,
			"parser_used":        parserUsed,
			"error_message":      "",
			"updated_at":         time.Now(),
		}).Error
}

func (r *documentRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, message string) error {
	if len(message) > 500 {
		message = message[:500]
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        domain.StatusFailed,
			"error_message": message,
			"updated_at":    time.Now(),
		}).Error
}

// Delete removes the document and its dependent data. Chunks, membership
// edges, and job rows cascade; extractions and workflow runs keep their rows
// with document_id nulled so history is preserved.
func (r *documentRepo) Delete(dbc dbctx.Context, tenantID, id uuid.UUID) error {
	transaction := r.tx(dbc)
	return transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		res := txx.Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&domain.Document{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apierr.ErrNotFound
		}
		if err := txx.Where("document_id = ?", id).Delete(&domain.Chunk{}).Error; err != nil {
			return err
		}
		var collectionIDs []uuid.UUID
		if err := txx.Model(&domain.CollectionDocument{}).
			Where("document_id = ?", id).
			Pluck("collection_id", &collectionIDs).Error; err != nil {
			return err
		}
		if err := txx.Where("document_id = ?", id).Delete(&domain.CollectionDocument{}).Error; err != nil {
			return err
		}
		// Counters move in the same transaction as the membership change.
		for _, cid := range collectionIDs {
			if err := collections.Recompute(txx, cid); err != nil {
				return err
			}
		}
		if err := txx.Where("document_id = ?", id).Delete(&domain.SessionDocument{}).Error; err != nil {
			return err
		}
		if err := txx.Where("document_id = ?", id).Delete(&domain.Job{}).Error; err != nil {
			return err
		}
		if err := txx.Model(&domain.Extraction{}).
			Where("document_id = ?", id).
			Update("document_id", nil).Error; err != nil {
			return err
		}
		// Workflow runs reference documents through the document_ids array;
		// runs keep their rows untouched (citation indexes stay stable).
		return nil
	})
}
