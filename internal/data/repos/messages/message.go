package messages

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

type MessageRepo interface {
	// AppendPair saves a user+assistant message pair with monotone indexes
	// and bumps session.message_count atomically.
	AppendPair(dbc dbctx.Context, sessionID uuid.UUID, userMsg, assistantMsg *domain.Message) error
	ListRecent(dbc dbctx.Context, sessionID uuid.UUID, limit int) ([]*domain.Message, error)
	ListSince(dbc dbctx.Context, sessionID uuid.UUID, fromIndex int) ([]*domain.Message, error)
	Count(dbc dbctx.Context, sessionID uuid.UUID) (int64, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: baseLog.With("repo", "MessageRepo")}
}

func (r *messageRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *messageRepo) AppendPair(dbc dbctx.Context, sessionID uuid.UUID, userMsg, assistantMsg *domain.Message) error {
	if userMsg == nil || assistantMsg == nil {
		return apierr.ErrInvalidArgument
	}
	return r.tx(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var session domain.Session
		if err := txx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", sessionID).
			First(&session).Error; err != nil {
			return err
		}
		userMsg.SessionID = sessionID
		userMsg.Role = domain.RoleUser
		userMsg.MessageIndex = session.MessageCount
		assistantMsg.SessionID = sessionID
		assistantMsg.Role = domain.RoleAssistant
		assistantMsg.MessageIndex = session.MessageCount + 1
		if err := txx.Create(userMsg).Error; err != nil {
			return err
		}
		if err := txx.Create(assistantMsg).Error; err != nil {
			return err
		}
		return txx.Model(&domain.Session{}).
			Where("id = ?", sessionID).
			Updates(map[string]interface{}{
				"message_count": session.MessageCount + 2,
				"updated_at":    time.Now(),
			}).Error
	})
}

func (r *messageRepo) ListRecent(dbc dbctx.Context, sessionID uuid.UUID, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []*domain.Message
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("session_id = ?", sessionID).
		Order("message_index DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	// Return in chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *messageRepo) ListSince(dbc dbctx.Context, sessionID uuid.UUID, fromIndex int) ([]*domain.Message, error) {
	var out []*domain.Message
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("session_id = ? AND message_index >= ?", sessionID, fromIndex).
		Order("message_index ASC").
		Find(&out).Error
	return out, err
}

func (r *messageRepo) Count(dbc dbctx.Context, sessionID uuid.UUID) (int64, error) {
	var count int64
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Message{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	return count, err
}
