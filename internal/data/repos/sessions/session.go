package sessions

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

type SessionRepo interface {
	Create(dbc dbctx.Context, s *domain.Session) (*domain.Session, error)
	GetByID(dbc dbctx.Context, tenantID, id uuid.UUID) (*domain.Session, error)
	ListByUser(dbc dbctx.Context, tenantID, userID uuid.UUID) ([]*domain.Session, error)
	LinkDocument(dbc dbctx.Context, sessionID, documentID uuid.UUID) error
	UnlinkDocument(dbc dbctx.Context, sessionID, documentID uuid.UUID) error
	DocumentIDs(dbc dbctx.Context, sessionID uuid.UUID) ([]uuid.UUID, error)
	SaveSummary(dbc dbctx.Context, sessionID uuid.UUID, summary string, keyFacts []string, summarizedIndex int) error
	Delete(dbc dbctx.Context, tenantID, id uuid.UUID) error
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return &sessionRepo{db: db, log: baseLog.With("repo", "SessionRepo")}
}

func (r *sessionRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *sessionRepo) Create(dbc dbctx.Context, s *domain.Session) (*domain.Session, error) {
	if s == nil {
		return nil, apierr.ErrInvalidArgument
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

func (r *sessionRepo) GetByID(dbc dbctx.Context, tenantID, id uuid.UUID) (*domain.Session, error) {
	var s domain.Session
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepo) ListByUser(dbc dbctx.Context, tenantID, userID uuid.UUID) ([]*domain.Session, error) {
	var out []*domain.Session
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Order("updated_at DESC").
		Find(&out).Error
	return out, err
}

func (r *sessionRepo) LinkDocument(dbc dbctx.Context, sessionID, documentID uuid.UUID) error {
	edge := &domain.SessionDocument{SessionID: sessionID, DocumentID: documentID, LinkedAt: time.Now()}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(edge).Error
}

func (r *sessionRepo) UnlinkDocument(dbc dbctx.Context, sessionID, documentID uuid.UUID) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Where("session_id = ? AND document_id = ?", sessionID, documentID).
		Delete(&domain.SessionDocument{}).Error
}

func (r *sessionRepo) DocumentIDs(dbc dbctx.Context, sessionID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.SessionDocument{}).
		Where("session_id = ?", sessionID).
		Order("linked_at ASC").
		Pluck("document_id", &ids).Error
	return ids, err
}

func (r *sessionRepo) SaveSummary(dbc dbctx.Context, sessionID uuid.UUID, summary string, keyFacts []string, summarizedIndex int) error {
	facts, err := json.Marshal(keyFacts)
	if err != nil {
		return err
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"last_summary_text":      summary,
			"last_summary_key_facts": datatypes.JSON(facts),
			"last_summarized_index":  summarizedIndex,
			"updated_at":             time.Now(),
		}).Error
}

func (r *sessionRepo) Delete(dbc dbctx.Context, tenantID, id uuid.UUID) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		res := txx.Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&domain.Session{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apierr.ErrNotFound
		}
		if err := txx.Where("session_id = ?", id).Delete(&domain.SessionDocument{}).Error; err != nil {
			return err
		}
		return txx.Where("session_id = ?", id).Delete(&domain.Message{}).Error
	})
}
