package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/services"
)

type ExtractionHandler struct {
	extractions services.ExtractionService
}

func NewExtractionHandler(extractions services.ExtractionService) *ExtractionHandler {
	return &ExtractionHandler{extractions: extractions}
}

func (h *ExtractionHandler) Create(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	var req struct {
		DocumentID uuid.UUID      `json:"document_id"`
		Context    string         `json:"context,omitempty"`
		Schema     map[string]any `json:"schema,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Newf(apierr.KindValidation, "", false, "invalid request body"))
		return
	}
	extraction, job, err := h.extractions.Create(dbctx.New(c.Request.Context()), actor, req.DocumentID, req.Context, req.Schema)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, gin.H{"extraction": extraction, "job": job})
}

func (h *ExtractionHandler) Get(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	extraction, err := h.extractions.Get(dbctx.New(c.Request.Context()), actor, id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, extraction)
}

func (h *ExtractionHandler) List(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	extractions, err := h.extractions.List(dbctx.New(c.Request.Context()), actor, limit)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"extractions": extractions})
}
