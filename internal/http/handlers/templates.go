package handlers

import (
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/services"
)

type TemplateHandler struct {
	templates services.TemplateService
}

func NewTemplateHandler(templates services.TemplateService) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

// Upload accepts multipart form data: "file" plus "name" and optional
// "field_count".
func (h *TemplateHandler) Upload(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		RespondError(c, apierr.Newf(apierr.KindValidation, "", false, "missing file field"))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		RespondError(c, apierr.Newf(apierr.KindValidation, "", false, "unreadable upload"))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		RespondError(c, apierr.New(apierr.KindStorage, "", false, err))
		return
	}
	fieldCount, _ := strconv.Atoi(c.DefaultPostForm("field_count", "0"))

	tmpl, err := h.templates.Upload(dbctx.New(c.Request.Context()), actor, c.PostForm("name"), fileHeader.Filename, data, fieldCount)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, tmpl)
}

func (h *TemplateHandler) Get(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	tmpl, err := h.templates.Get(dbctx.New(c.Request.Context()), actor, id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, tmpl)
}

func (h *TemplateHandler) CreateFillRun(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req struct {
		DocumentID uuid.UUID `json:"document_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Newf(apierr.KindValidation, "", false, "invalid request body"))
		return
	}
	run, job, err := h.templates.CreateFillRun(dbctx.New(c.Request.Context()), actor, id, req.DocumentID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, gin.H{"run": run, "job": job})
}

func (h *TemplateHandler) GetFillRun(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	run, err := h.templates.GetFillRun(dbctx.New(c.Request.Context()), actor, id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, run)
}

// ReviewFillRun closes the human review gate on an awaiting_review run.
func (h *TemplateHandler) ReviewFillRun(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Approved bool           `json:"approved"`
		Edits    map[string]any `json:"edits,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Newf(apierr.KindValidation, "", false, "invalid request body"))
		return
	}
	run, err := h.templates.ReviewFillRun(dbctx.New(c.Request.Context()), actor, id, req.Approved, req.Edits)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, run)
}
