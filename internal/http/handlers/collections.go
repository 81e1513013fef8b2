package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/services"
)

type CollectionHandler struct {
	collections services.CollectionService
}

func NewCollectionHandler(collections services.CollectionService) *CollectionHandler {
	return &CollectionHandler{collections: collections}
}

func (h *CollectionHandler) Create(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Newf(apierr.KindValidation, "", false, "invalid request body"))
		return
	}
	col, err := h.collections.Create(dbctx.New(c.Request.Context()), actor, req.Name)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, col)
}

func (h *CollectionHandler) Get(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	col, docIDs, err := h.collections.Get(dbctx.New(c.Request.Context()), actor, id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"collection": col, "document_ids": docIDs})
}

func (h *CollectionHandler) List(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	cols, err := h.collections.List(dbctx.New(c.Request.Context()), actor)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"collections": cols})
}

func (h *CollectionHandler) AddDocument(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	docID, ok := pathUUID(c, "document_id")
	if !ok {
		return
	}
	if err := h.collections.AddDocument(dbctx.New(c.Request.Context()), actor, id, docID); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"linked": true})
}

func (h *CollectionHandler) RemoveDocument(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	docID, ok := pathUUID(c, "document_id")
	if !ok {
		return
	}
	if err := h.collections.RemoveDocument(dbctx.New(c.Request.Context()), actor, id, docID); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"linked": false})
}

func (h *CollectionHandler) Delete(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.collections.Delete(dbctx.New(c.Request.Context()), actor, id); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": true})
}
