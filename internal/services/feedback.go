package services

import (
	"strings"

	feedbackrepo "github.com/docmindhq/docmind-backend/internal/data/repos/feedback"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

type FeedbackService interface {
	Create(dbc dbctx.Context, actor Actor, fb *domain.Feedback) (*domain.Feedback, error)
	List(dbc dbctx.Context, actor Actor, limit int) ([]*domain.Feedback, error)
}

type feedbackService struct {
	log  *logger.Logger
	repo feedbackrepo.FeedbackRepo
}

func NewFeedbackService(baseLog *logger.Logger, repo feedbackrepo.FeedbackRepo) FeedbackService {
	return &feedbackService{
		log:  baseLog.With("service", "FeedbackService"),
		repo: repo,
	}
}

func (s *feedbackService) Create(dbc dbctx.Context, actor Actor, fb *domain.Feedback) (*domain.Feedback, error) {
	if !actor.Valid() || fb == nil {
		return nil, apierr.ErrInvalidArgument
	}
	if fb.Rating < 1 || fb.Rating > 5 {
		return nil, apierr.Newf(apierr.KindValidation, "", false, "rating must be between 1 and 5")
	}
	if n := fb.OwnerCount(); n != 1 {
		return nil, apierr.Newf(apierr.KindValidation, "", false,
			"feedback must reference exactly one operation, got %d", n)
	}
	fb.TenantID = actor.TenantID
	fb.UserID = actor.UserID
	fb.Comment = strings.TrimSpace(fb.Comment)
	return s.repo.Create(dbc, fb)
}

func (s *feedbackService) List(dbc dbctx.Context, actor Actor, limit int) ([]*domain.Feedback, error) {
	return s.repo.ListByUser(dbc, actor.TenantID, actor.UserID, limit)
}
