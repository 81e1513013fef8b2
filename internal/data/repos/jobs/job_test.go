package jobs

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/data/repos/testutil"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
)

func ptrUUID(id uuid.UUID) *uuid.UUID { return &id }

func TestJobRepoOwnershipGuard(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewJobRepo(db, testutil.Logger(t))
	dbc := dbctx.WithTx(context.Background(), tx)

	tenantID := uuid.New()
	userID := uuid.New()

	// Zero owners rejected.
	_, err := repo.Create(dbc, &domain.Job{TenantID: tenantID, UserID: userID, JobType: "document_index"})
	if err == nil {
		t.Fatalf("expected error for zero owners")
	}

	// Two owners rejected.
	_, err = repo.Create(dbc, &domain.Job{
		TenantID:   tenantID,
		UserID:     userID,
		JobType:    "document_index",
		DocumentID: ptrUUID(uuid.New()),
		ExtractionID: ptrUUID(uuid.New()),
	})
	if err == nil {
		t.Fatalf("expected error for two owners")
	}

	// Exactly one owner accepted.
	job, err := repo.Create(dbc, &domain.Job{
		TenantID:   tenantID,
		UserID:     userID,
		JobType:    "document_index",
		DocumentID: ptrUUID(uuid.New()),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.Status != domain.StatusQueued {
		t.Fatalf("status: want=queued got=%s", job.Status)
	}
}

func TestJobRepoResetForRetry(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewJobRepo(db, testutil.Logger(t))
	dbc := dbctx.WithTx(context.Background(), tx)

	tenantID := uuid.New()
	userID := uuid.New()

	// Failed synthesis stage with a saved combined context is resumable.
	resumable, err := repo.Create(dbc, &domain.Job{
		TenantID:     tenantID,
		UserID:       userID,
		JobType:      "extraction",
		ExtractionID: ptrUUID(uuid.New()),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.UpdateFields(dbc, resumable.ID, map[string]interface{}{
		"combined_context_path": "artifacts/" + resumable.ID.String() + "/combined_context.txt",
	}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	if err := repo.MarkFailed(dbc, resumable.ID, domain.StageSynthesizeStructured, "overloaded", "llm_error", true); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if err := repo.ResetForRetry(dbc, resumable.ID); err != nil {
		t.Fatalf("ResetForRetry: %v", err)
	}
	got, err := repo.GetByID(dbc, resumable.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.StatusQueued || got.ErrorStage != "" || got.ErrorMessage != "" {
		t.Fatalf("after reset: status=%s error_stage=%q error_message=%q", got.Status, got.ErrorStage, got.ErrorMessage)
	}
	if got.CombinedContextPath == "" {
		t.Fatalf("reset must keep the resume artifact path")
	}

	// Same failure without the artifact is rejected.
	bare, err := repo.Create(dbc, &domain.Job{
		TenantID:     tenantID,
		UserID:       userID,
		JobType:      "extraction",
		ExtractionID: ptrUUID(uuid.New()),
	})
	if err != nil {
		t.Fatalf("Create bare: %v", err)
	}
	if err := repo.MarkFailed(dbc, bare.ID, domain.StageSynthesizeStructured, "overloaded", "llm_error", true); err != nil {
		t.Fatalf("MarkFailed bare: %v", err)
	}
	if err := repo.ResetForRetry(dbc, bare.ID); err != ErrNotResumable {
		t.Fatalf("want ErrNotResumable, got %v", err)
	}
}

func TestJobRepoProgressGuardAfterFailure(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewJobRepo(db, testutil.Logger(t))
	dbc := dbctx.WithTx(context.Background(), tx)

	job, err := repo.Create(dbc, &domain.Job{
		TenantID:   uuid.New(),
		UserID:     uuid.New(),
		JobType:    "document_index",
		DocumentID: ptrUUID(uuid.New()),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.MarkFailed(dbc, job.ID, domain.StageEmbed, "boom", "embedding_error", true); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	ok, err := repo.UpdateFieldsUnlessStatus(dbc, job.ID, []string{domain.StatusFailed, domain.StatusCompleted}, map[string]interface{}{
		"progress_percent": 80,
	})
	if err != nil {
		t.Fatalf("UpdateFieldsUnlessStatus: %v", err)
	}
	if ok {
		t.Fatalf("progress update must be rejected after terminal failure")
	}
}
