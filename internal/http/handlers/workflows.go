package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/services"
)

type WorkflowHandler struct {
	workflows services.WorkflowService
}

func NewWorkflowHandler(workflows services.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows}
}

func (h *WorkflowHandler) List(c *gin.Context) {
	if _, ok := mustActor(c); !ok {
		return
	}
	wfs, err := h.workflows.List(dbctx.New(c.Request.Context()))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"workflows": wfs})
}

func (h *WorkflowHandler) Get(c *gin.Context) {
	if _, ok := mustActor(c); !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	wf, err := h.workflows.Get(dbctx.New(c.Request.Context()), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, wf)
}

func (h *WorkflowHandler) Run(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req services.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Newf(apierr.KindValidation, "", false, "invalid request body"))
		return
	}
	req.WorkflowID = id
	run, job, err := h.workflows.Run(dbctx.New(c.Request.Context()), actor, req)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, gin.H{"run": run, "job": job})
}

func (h *WorkflowHandler) GetRun(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	run, err := h.workflows.GetRun(dbctx.New(c.Request.Context()), actor, id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, run)
}

func (h *WorkflowHandler) ListRuns(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.workflows.ListRuns(dbctx.New(c.Request.Context()), actor, limit)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"runs": runs})
}
