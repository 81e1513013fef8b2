package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	jobsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/jobs"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

func newJobFixture(t *testing.T) (JobService, *fakeJobRepo, Actor) {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	repo := newFakeJobRepo()
	return NewJobService(log, repo), repo, Actor{TenantID: uuid.New(), UserID: uuid.New()}
}

func TestJobGetHidesOtherTenants(t *testing.T) {
	svc, repo, actor := newJobFixture(t)
	dbc := dbctx.New(context.Background())

	docID := uuid.New()
	job, err := repo.Create(dbc, &domain.Job{
		TenantID: uuid.New(), UserID: uuid.New(),
		JobType: "document_index", DocumentID: &docID,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := svc.Get(dbc, actor, job.ID); !errors.Is(err, apierr.ErrNotFound) {
		t.Fatalf("cross-tenant get: %v", err)
	}
}

func TestJobRetryRequiresResumableArtifact(t *testing.T) {
	svc, repo, actor := newJobFixture(t)
	dbc := dbctx.New(context.Background())

	docID := uuid.New()
	job, err := repo.Create(dbc, &domain.Job{
		TenantID: actor.TenantID, UserID: actor.UserID,
		JobType: "document_index", DocumentID: &docID,
		Status: domain.StatusFailed, ErrorStage: domain.StageEmbed,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// No chunks artifact recorded: the embed stage has nothing to resume from.
	if _, err := svc.Retry(dbc, actor, job.ID); !errors.Is(err, jobsrepo.ErrNotResumable) {
		t.Fatalf("expected not-resumable, got %v", err)
	}

	job.ChunksPath = "artifacts/t/j/chunks.json"
	got, err := svc.Retry(dbc, actor, job.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got.Status != domain.StatusQueued {
		t.Fatalf("status after retry: %q", got.Status)
	}
}

func TestJobRetryRejectsNonFailed(t *testing.T) {
	svc, repo, actor := newJobFixture(t)
	dbc := dbctx.New(context.Background())

	docID := uuid.New()
	job, _ := repo.Create(dbc, &domain.Job{
		TenantID: actor.TenantID, UserID: actor.UserID,
		JobType: "document_index", DocumentID: &docID,
		Status: domain.StatusProcessing,
	})
	if _, err := svc.Retry(dbc, actor, job.ID); err == nil {
		t.Fatalf("retry of processing job must fail")
	}
}
