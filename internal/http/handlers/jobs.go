package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/services"
)

type JobHandler struct {
	jobs services.JobService
}

func NewJobHandler(jobs services.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

func (h *JobHandler) Get(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	job, err := h.jobs.Get(dbctx.New(c.Request.Context()), actor, id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, job)
}

func (h *JobHandler) Retry(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	job, err := h.jobs.Retry(dbctx.New(c.Request.Context()), actor, id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, job)
}
