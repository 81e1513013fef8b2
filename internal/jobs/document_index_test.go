package jobs

import (
	"context"
	"testing"

	"github.com/google/uuid"

	collectionsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/collections"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

type fakeCollectionRepo struct {
	byDocument map[uuid.UUID][]uuid.UUID
	recomputed []uuid.UUID
}

func (f *fakeCollectionRepo) Create(dbctx.Context, *domain.Collection) (*domain.Collection, error) {
	return nil, nil
}
func (f *fakeCollectionRepo) GetByID(dbctx.Context, uuid.UUID, uuid.UUID) (*domain.Collection, error) {
	return nil, nil
}
func (f *fakeCollectionRepo) ListByUser(dbctx.Context, uuid.UUID, uuid.UUID) ([]*domain.Collection, error) {
	return nil, nil
}
func (f *fakeCollectionRepo) LinkDocument(dbctx.Context, uuid.UUID, uuid.UUID) error   { return nil }
func (f *fakeCollectionRepo) UnlinkDocument(dbctx.Context, uuid.UUID, uuid.UUID) error { return nil }
func (f *fakeCollectionRepo) DocumentIDs(dbctx.Context, uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}
func (f *fakeCollectionRepo) CollectionsByDocument(_ dbctx.Context, documentID uuid.UUID) ([]uuid.UUID, error) {
	return f.byDocument[documentID], nil
}
func (f *fakeCollectionRepo) RecomputeCounters(_ dbctx.Context, collectionID uuid.UUID) error {
	f.recomputed = append(f.recomputed, collectionID)
	return nil
}
func (f *fakeCollectionRepo) Delete(dbctx.Context, uuid.UUID, uuid.UUID) error { return nil }

var _ collectionsrepo.CollectionRepo = (*fakeCollectionRepo)(nil)

func TestRefreshCollectionCountersHitsEveryMembership(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	docID := uuid.New()
	colA, colB := uuid.New(), uuid.New()
	repo := &fakeCollectionRepo{byDocument: map[uuid.UUID][]uuid.UUID{
		docID: {colA, colB},
	}}

	p := NewPipelines(log, PipelineDeps{Collections: repo})
	rt := newTestRuntime(t, &fakeJobRepo{}, &fakeBus{})

	p.refreshCollectionCounters(dbctx.New(context.Background()), rt, docID)

	if len(repo.recomputed) != 2 {
		t.Fatalf("recomputed collections: want=2 got=%d", len(repo.recomputed))
	}
	seen := map[uuid.UUID]bool{}
	for _, id := range repo.recomputed {
		seen[id] = true
	}
	if !seen[colA] || !seen[colB] {
		t.Fatalf("recompute missed a collection: %v", repo.recomputed)
	}

	// A document outside any collection recomputes nothing.
	repo.recomputed = nil
	p.refreshCollectionCounters(dbctx.New(context.Background()), rt, uuid.New())
	if len(repo.recomputed) != 0 {
		t.Fatalf("unexpected recompute: %v", repo.recomputed)
	}
}
