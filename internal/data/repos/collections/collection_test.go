package collections

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/data/repos/testutil"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
)

func TestCollectionCountersRecomputed(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewCollectionRepo(db, testutil.Logger(t))
	ctx := context.Background()
	dbc := dbctx.WithTx(ctx, tx)

	tenantID := uuid.New()
	userID := uuid.New()

	col, err := repo.Create(dbc, &domain.Collection{TenantID: tenantID, UserID: userID, Name: "deals"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	docA := testutil.SeedDocument(t, ctx, tx, tenantID, userID, "a.pdf")
	docB := testutil.SeedDocument(t, ctx, tx, tenantID, userID, "b.pdf")
	testutil.SeedChunks(t, ctx, tx, docA, 3)
	testutil.SeedChunks(t, ctx, tx, docB, 5)

	if err := repo.LinkDocument(dbc, col.ID, docA.ID); err != nil {
		t.Fatalf("link a: %v", err)
	}
	if err := repo.LinkDocument(dbc, col.ID, docB.ID); err != nil {
		t.Fatalf("link b: %v", err)
	}
	// Idempotent relink.
	if err := repo.LinkDocument(dbc, col.ID, docB.ID); err != nil {
		t.Fatalf("relink b: %v", err)
	}

	got, err := repo.GetByID(dbc, tenantID, col.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.DocumentCount != 2 {
		t.Fatalf("document_count: want=2 got=%d", got.DocumentCount)
	}
	if got.TotalChunks != 8 {
		t.Fatalf("total_chunks: want=8 got=%d", got.TotalChunks)
	}

	if err := repo.UnlinkDocument(dbc, col.ID, docA.ID); err != nil {
		t.Fatalf("unlink a: %v", err)
	}
	got, err = repo.GetByID(dbc, tenantID, col.ID)
	if err != nil {
		t.Fatalf("GetByID after unlink: %v", err)
	}
	if got.DocumentCount != 1 || got.TotalChunks != 5 {
		t.Fatalf("after unlink: document_count=%d total_chunks=%d", got.DocumentCount, got.TotalChunks)
	}
}

// Chunks land after the membership edge during indexing, so the counters are
// only right if they get recomputed once the rows exist.
func TestCollectionCountersFollowLateChunks(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewCollectionRepo(db, testutil.Logger(t))
	ctx := context.Background()
	dbc := dbctx.WithTx(ctx, tx)

	tenantID := uuid.New()
	userID := uuid.New()

	col, err := repo.Create(dbc, &domain.Collection{TenantID: tenantID, UserID: userID, Name: "deals"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	doc := testutil.SeedDocument(t, ctx, tx, tenantID, userID, "late.pdf")
	if err := repo.LinkDocument(dbc, col.ID, doc.ID); err != nil {
		t.Fatalf("link: %v", err)
	}

	got, err := repo.GetByID(dbc, tenantID, col.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.DocumentCount != 1 || got.TotalChunks != 0 {
		t.Fatalf("before chunks: document_count=%d total_chunks=%d", got.DocumentCount, got.TotalChunks)
	}

	testutil.SeedChunks(t, ctx, tx, doc, 4)

	ids, err := repo.CollectionsByDocument(dbc, doc.ID)
	if err != nil {
		t.Fatalf("CollectionsByDocument: %v", err)
	}
	if len(ids) != 1 || ids[0] != col.ID {
		t.Fatalf("collections for document: %v", ids)
	}
	for _, cid := range ids {
		if err := repo.RecomputeCounters(dbc, cid); err != nil {
			t.Fatalf("RecomputeCounters: %v", err)
		}
	}

	got, err = repo.GetByID(dbc, tenantID, col.ID)
	if err != nil {
		t.Fatalf("GetByID after recompute: %v", err)
	}
	if got.TotalChunks != 4 {
		t.Fatalf("total_chunks: want=4 got=%d", got.TotalChunks)
	}
}
