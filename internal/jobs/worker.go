package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/docmindhq/docmind-backend/internal/data/repos/jobs"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/blobstore"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/envutil"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
	"github.com/docmindhq/docmind-backend/internal/platform/redisbus"
)

// Handler executes one job to completion. On success it calls rt.Succeed; on
// failure it records the error through rt.Fail and returns the classified
// error for the worker log.
type Handler func(dbc dbctx.Context, rt *Runtime) error

// Job type names; each maps to one registered handler.
const (
	TypeDocumentIndex = "document_index"
	TypeExtraction    = "extraction"
	TypeWorkflowRun   = "workflow_run"
	TypeTemplateFill  = "template_fill"
)

type WorkerConfig struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	MaxAttempts       int
	RetryDelay        time.Duration
	StaleRunning      time.Duration
	// Concurrency is the number of claim loops per process.
	Concurrency int
}

func WorkerConfigFromEnv() WorkerConfig {
	return WorkerConfig{
		PollInterval:      time.Duration(envutil.GetEnvInt("WORKER_POLL_INTERVAL_MS", 1000)) * time.Millisecond,
		HeartbeatInterval: time.Duration(envutil.GetEnvInt("WORKER_HEARTBEAT_SECONDS", 15)) * time.Second,
		MaxAttempts:       envutil.GetEnvInt("WORKER_MAX_ATTEMPTS", 3),
		RetryDelay:        time.Duration(envutil.GetEnvInt("WORKER_RETRY_DELAY_SECONDS", 30)) * time.Second,
		StaleRunning:      time.Duration(envutil.GetEnvInt("WORKER_STALE_RUNNING_SECONDS", 300)) * time.Second,
		Concurrency:       envutil.GetEnvInt("WORKER_CONCURRENCY", 4),
	}
}

// Worker claims runnable jobs from the ledger and dispatches them to
// registered handlers. Claiming uses SKIP LOCKED so multiple workers can run
// against the same database.
type Worker struct {
	log      *logger.Logger
	repo     jobs.JobRepo
	bus      redisbus.ProgressBus
	blobs    blobstore.Backend
	handlers map[string]Handler
	cfg      WorkerConfig
}

func NewWorker(log *logger.Logger, repo jobs.JobRepo, bus redisbus.ProgressBus, blobs blobstore.Backend, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg = WorkerConfigFromEnv()
	}
	return &Worker{
		log:      log.With("service", "JobWorker"),
		repo:     repo,
		bus:      bus,
		blobs:    blobs,
		handlers: map[string]Handler{},
		cfg:      cfg,
	}
}

func (w *Worker) Register(jobType string, h Handler) {
	w.handlers[jobType] = h
}

// Run starts Concurrency claim loops and blocks until the context is
// cancelled and all of them drain. Each loop claims independently, so long
// jobs never starve the rest of the queue.
func (w *Worker) Run(ctx context.Context) {
	n := w.cfg.Concurrency
	if n <= 0 {
		n = 1
	}
	w.log.Info("worker started", "poll_interval", w.cfg.PollInterval.String(), "concurrency", n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.claimLoop(ctx, slot)
		}(i)
	}
	wg.Wait()
	w.log.Info("worker stopped")
}

func (w *Worker) claimLoop(ctx context.Context, slot int) {
	log := w.log.With("slot", slot)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.repo.ClaimNextRunnable(dbctx.New(ctx), w.cfg.MaxAttempts, w.cfg.RetryDelay, w.cfg.StaleRunning)
		if err != nil {
			log.Error("claim failed", "error", err)
			sleepCtx(ctx, w.cfg.PollInterval)
			continue
		}
		if job == nil {
			sleepCtx(ctx, w.cfg.PollInterval)
			continue
		}
		w.execute(ctx, job)
	}
}

func (w *Worker) execute(ctx context.Context, job *domain.Job) {
	rt := NewRuntime(w.log, w.repo, w.bus, w.blobs, job)
	dbc := dbctx.New(ctx)

	handler, ok := w.handlers[job.JobType]
	if !ok {
		rt.Fail(dbc, job.CurrentStage, fmt.Errorf("no handler registered for job type %q", job.JobType))
		return
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go w.heartbeat(hbCtx, job)
	defer stopHeartbeat()

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("handler panicked",
				"job_id", job.ID.String(), "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			rt.Fail(dbc, job.CurrentStage, fmt.Errorf("handler panic: %v", r))
		}
	}()

	start := time.Now()
	if err := handler(dbc, rt); err != nil {
		w.log.Warn("job failed",
			"job_id", job.ID.String(), "stage", job.CurrentStage,
			"elapsed", time.Since(start).String(), "error", err)
		return
	}
	w.log.Info("job finished", "job_id", job.ID.String(), "elapsed", time.Since(start).String())
}

func (w *Worker) heartbeat(ctx context.Context, job *domain.Job) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.repo.Heartbeat(dbctx.New(ctx), job.ID); err != nil {
				w.log.Warn("heartbeat failed", "job_id", job.ID.String(), "error", err)
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
