package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/blobstore"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

// claimQueueRepo hands out queued jobs one per claim.
type claimQueueRepo struct {
	fakeJobRepo
	qmu         sync.Mutex
	queue       []*domain.Job
	completions int
}

func (f *claimQueueRepo) ClaimNextRunnable(dbctx.Context, int, time.Duration, time.Duration) (*domain.Job, error) {
	f.qmu.Lock()
	defer f.qmu.Unlock()
	if len(f.queue) == 0 {
		return nil, nil
	}
	job := f.queue[0]
	f.queue = f.queue[1:]
	return job, nil
}

func (f *claimQueueRepo) MarkCompleted(_ dbctx.Context, _ uuid.UUID, _ string) error {
	f.qmu.Lock()
	defer f.qmu.Unlock()
	f.completions++
	return nil
}

func TestWorkerRunsJobsConcurrently(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	blobs, err := blobstore.NewLocalBackend(log, t.TempDir())
	if err != nil {
		t.Fatalf("blobstore: %v", err)
	}

	docA, docB := uuid.New(), uuid.New()
	repo := &claimQueueRepo{queue: []*domain.Job{
		{ID: uuid.New(), TenantID: uuid.New(), JobType: TypeDocumentIndex, DocumentID: &docA},
		{ID: uuid.New(), TenantID: uuid.New(), JobType: TypeDocumentIndex, DocumentID: &docB},
	}}
	w := NewWorker(log, repo, &fakeBus{}, blobs, WorkerConfig{
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: time.Minute,
		MaxAttempts:       3,
		RetryDelay:        time.Second,
		StaleRunning:      time.Minute,
		Concurrency:       2,
	})

	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	w.Register(TypeDocumentIndex, func(dbc dbctx.Context, rt *Runtime) error {
		started.Done()
		<-release
		return rt.Succeed(dbc, "done")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// Both jobs must be in flight at once; a single claim loop would sit
	// here holding the first job while the second stays queued.
	bothStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(bothStarted)
	}()
	select {
	case <-bothStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("second job never started while the first was running")
	}

	close(release)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not drain after cancel")
	}

	repo.qmu.Lock()
	defer repo.qmu.Unlock()
	if repo.completions != 2 {
		t.Fatalf("completions: want=2 got=%d", repo.completions)
	}
}
