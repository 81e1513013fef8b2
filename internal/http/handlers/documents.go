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

type DocumentHandler struct {
	documents services.DocumentService
}

func NewDocumentHandler(documents services.DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// Upload accepts multipart form data: "file" plus optional "tier" and
// "collection_id" fields. Dedup by content hash happens in the service, so a
// repeated upload returns the existing document with reused=true.
func (h *DocumentHandler) Upload(c *gin.Context) {
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

	tier := c.PostForm("tier")
	var collectionID *uuid.UUID
	if raw := c.PostForm("collection_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			RespondError(c, apierr.Newf(apierr.KindValidation, "", false, "invalid collection_id"))
			return
		}
		collectionID = &id
	}

	result, err := h.documents.Upload(dbctx.New(c.Request.Context()), actor, fileHeader.Filename, data, tier, collectionID)
	if err != nil {
		RespondError(c, err)
		return
	}
	if result.Reused {
		RespondOK(c, result)
		return
	}
	RespondCreated(c, result)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	doc, err := h.documents.Get(dbctx.New(c.Request.Context()), actor, id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, doc)
}

func (h *DocumentHandler) List(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	docs, err := h.documents.List(dbctx.New(c.Request.Context()), actor, limit, offset)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"documents": docs})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.documents.Delete(dbctx.New(c.Request.Context()), actor, id); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": true})
}

func (h *DocumentHandler) DownloadURL(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	url, err := h.documents.DownloadURL(dbctx.New(c.Request.Context()), actor, id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"url": url})
}
