package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/services"
)

type FeedbackHandler struct {
	feedback services.FeedbackService
}

func NewFeedbackHandler(feedback services.FeedbackService) *FeedbackHandler {
	return &FeedbackHandler{feedback: feedback}
}

func (h *FeedbackHandler) Create(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	var req struct {
		MessageID     *uuid.UUID `json:"message_id,omitempty"`
		ExtractionID  *uuid.UUID `json:"extraction_id,omitempty"`
		WorkflowRunID *uuid.UUID `json:"workflow_run_id,omitempty"`
		Rating        int        `json:"rating"`
		Comment       string     `json:"comment,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Newf(apierr.KindValidation, "", false, "invalid request body"))
		return
	}
	fb, err := h.feedback.Create(dbctx.New(c.Request.Context()), actor, &domain.Feedback{
		MessageID:     req.MessageID,
		ExtractionID:  req.ExtractionID,
		WorkflowRunID: req.WorkflowRunID,
		Rating:        req.Rating,
		Comment:       req.Comment,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, fb)
}

func (h *FeedbackHandler) List(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	items, err := h.feedback.List(dbctx.New(c.Request.Context()), actor, limit)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"feedback": items})
}
