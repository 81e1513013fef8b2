package handlers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
	"github.com/docmindhq/docmind-backend/internal/platform/redisbus"
	"github.com/docmindhq/docmind-backend/internal/services"
)

const (
	ssePollInterval  = 1 * time.Second
	sseKeepaliveGap  = 8 * time.Second
	sseMaxStreamLife = 800 * time.Second
)

// JobStreamHandler bridges the redis progress bus onto an SSE response.
// Every stream closes with exactly one terminal "end" event, whatever path
// got it there.
type JobStreamHandler struct {
	log  *logger.Logger
	jobs services.JobService
	bus  redisbus.ProgressBus
}

func NewJobStreamHandler(baseLog *logger.Logger, jobs services.JobService, bus redisbus.ProgressBus) *JobStreamHandler {
	return &JobStreamHandler{
		log:  baseLog.With("handler", "JobStreamHandler"),
		jobs: jobs,
		bus:  bus,
	}
}

// Stream serves GET /jobs/:id/events. It snapshots the job ledger first so
// late subscribers see current state, then relays bus events until the job
// reaches a terminal status, the client disconnects, or the hard cap hits.
func (h *JobStreamHandler) Stream(c *gin.Context) {
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

	setSSEHeaders(c)

	// Ledger snapshot: terminal jobs never touch the bus.
	switch job.Status {
	case domain.StatusCompleted:
		writeSSE(c, "complete", completePayload(job, job.Message))
		endStream(c, job, "complete")
		return
	case domain.StatusFailed:
		writeSSE(c, "error", gin.H{
			"stage":     job.ErrorStage,
			"message":   job.ErrorMessage,
			"type":      job.ErrorType,
			"retryable": job.ErrorIsRetryable,
		})
		endStream(c, job, "error")
		return
	default:
		writeSSE(c, "progress", gin.H{
			"status":           job.Status,
			"current_stage":    job.CurrentStage,
			"progress_percent": job.ProgressPercent,
			"message":          job.Message,
			"details":          job.Details,
		})
	}

	sub, err := h.bus.Subscribe(c.Request.Context(), id)
	if err != nil {
		h.log.Warn("progress subscribe failed", "job_id", id, "error", err)
		writeSSE(c, "error", gin.H{"stage": "", "message": "progress stream unavailable", "type": "stream_error", "retryable": true})
		endStream(c, job, "unavailable")
		return
	}
	defer sub.Close()

	deadline := time.Now().Add(sseMaxStreamLife)
	lastWrite := time.Now()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		default:
		}
		if time.Now().After(deadline) {
			writeSSE(c, "error", gin.H{"stage": "", "message": "stream timed out", "type": "timeout", "retryable": true})
			endStream(c, job, "timeout")
			return
		}

		ev, got := sub.Get(ssePollInterval)
		if !got {
			if time.Since(lastWrite) >= sseKeepaliveGap {
				writeSSEComment(c, "keepalive")
				lastWrite = time.Now()
			}
			continue
		}

		switch ev.Status {
		case domain.StatusCompleted:
			writeSSE(c, "complete", completePayload(job, ev.Message))
			endStream(c, job, "complete")
			return
		case domain.StatusFailed:
			writeSSE(c, "error", gin.H{
				"stage":     ev.Stage,
				"message":   ev.Message,
				"type":      ev.Detail["error_type"],
				"retryable": ev.Detail["is_retryable"],
			})
			endStream(c, job, "error")
			return
		default:
			writeSSE(c, "progress", gin.H{
				"status":           ev.Status,
				"current_stage":    ev.Stage,
				"progress_percent": ev.Progress,
				"message":          ev.Message,
				"details":          ev.Detail,
			})
		}
		lastWrite = time.Now()
	}
}

func endStream(c *gin.Context, job *domain.Job, reason string) {
	writeSSE(c, "end", gin.H{"reason": reason, "job_id": job.ID})
}

// completePayload names the owning entity so clients can fetch the result
// without another job lookup.
func completePayload(job *domain.Job, message string) gin.H {
	out := gin.H{"message": message}
	switch {
	case job.DocumentID != nil:
		out["document_id"] = *job.DocumentID
	case job.ExtractionID != nil:
		out["extraction_id"] = *job.ExtractionID
	case job.WorkflowRunID != nil:
		out["run_id"] = *job.WorkflowRunID
	case job.TemplateFillRunID != nil:
		out["fill_run_id"] = *job.TemplateFillRunID
	}
	return out
}

func setSSEHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
}

func writeSSE(c *gin.Context, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data)
	c.Writer.Flush()
}

func writeSSEComment(c *gin.Context, text string) {
	fmt.Fprintf(c.Writer, ": %s\n\n", text)
	c.Writer.Flush()
}
