package retrieval

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/data/repos/chunks"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

// fakeChunkRepo records FetchMany calls and serves from a fixed map.
type fakeChunkRepo struct {
	byID       map[uuid.UUID]*chunks.ScoredChunk
	fetchCalls int
}

func (f *fakeChunkRepo) BulkInsert(dbctx.Context, []*domain.Chunk) error { return nil }
func (f *fakeChunkRepo) ListByDocument(dbctx.Context, uuid.UUID) ([]*domain.Chunk, error) {
	return nil, nil
}
func (f *fakeChunkRepo) CountForDocuments(dbctx.Context, []uuid.UUID) (int64, error) {
	return 0, nil
}
func (f *fakeChunkRepo) GetByPage(dbctx.Context, uuid.UUID, int) ([]*chunks.ScoredChunk, error) {
	return nil, nil
}
func (f *fakeChunkRepo) SemanticSearch(dbctx.Context, uuid.UUID, []float32, chunks.Scope, int, *float64) ([]*chunks.ScoredChunk, error) {
	return nil, nil
}
func (f *fakeChunkRepo) KeywordSearch(dbctx.Context, uuid.UUID, string, chunks.Scope, int, bool) ([]*chunks.ScoredChunk, error) {
	return nil, nil
}
func (f *fakeChunkRepo) FetchMany(_ dbctx.Context, ids []uuid.UUID) ([]*chunks.ScoredChunk, error) {
	f.fetchCalls++
	var out []*chunks.ScoredChunk
	for _, id := range ids {
		if sc, ok := f.byID[id]; ok {
			out = append(out, sc)
		}
	}
	return out, nil
}

func TestExpandDataExtraction(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	narrativeID := uuid.New()
	tableID := uuid.New()
	parentID := uuid.New()

	// A ranked table chunk linking back to its narrative, and a ranked
	// continuation linking to its parent.
	table := &chunks.ScoredChunk{
		Chunk: &domain.Chunk{ID: uuid.New(), IsTabular: true},
		Metadata: map[string]any{
			"linked_narrative_id": narrativeID.String(),
		},
		Score: 0.8,
	}
	continuation := &chunks.ScoredChunk{
		Chunk: &domain.Chunk{ID: uuid.New()},
		Metadata: map[string]any{
			"is_continuation": true,
			"parent_chunk_id": parentID.String(),
			"linked_table_ids": []any{tableID.String()},
		},
		Score: 0.6,
	}

	repo := &fakeChunkRepo{byID: map[uuid.UUID]*chunks.ScoredChunk{
		narrativeID: {Chunk: &domain.Chunk{ID: narrativeID}, Metadata: map[string]any{}},
		tableID:     {Chunk: &domain.Chunk{ID: tableID}, Metadata: map[string]any{}},
		parentID:    {Chunk: &domain.Chunk{ID: parentID}, Metadata: map[string]any{}},
	}}

	e := NewExpander(log, repo, DefaultExpandConfig())
	out, err := e.Expand(dbctx.New(context.Background()), []*chunks.ScoredChunk{table, continuation}, QueryDataExtraction)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	if repo.fetchCalls != 1 {
		t.Fatalf("expansion must batch: fetch calls=%d", repo.fetchCalls)
	}
	if len(out) != 5 {
		t.Fatalf("expanded size: want=5 got=%d", len(out))
	}

	// Expansions sit right after their origin and never outrank it.
	if out[0] != table || out[1].Chunk.ID != narrativeID {
		t.Fatalf("narrative not appended after table origin")
	}
	if out[1].Score >= table.Score {
		t.Fatalf("expansion outranks origin: %v >= %v", out[1].Score, table.Score)
	}
	if out[1].Score != table.Score*0.90 {
		t.Fatalf("table narrative dampening: got=%v", out[1].Score)
	}
	if out[1].Metadata["_expansion_reason"] != "table_narrative" {
		t.Fatalf("reason: %v", out[1].Metadata["_expansion_reason"])
	}
	if out[1].Metadata["_expanded_from"] != table.Chunk.ID.String() {
		t.Fatalf("_expanded_from: %v", out[1].Metadata["_expanded_from"])
	}

	// Continuation origin gets linked table (0.85) then parent (0.75).
	if out[2] != continuation {
		t.Fatalf("origin order broken")
	}
	if out[3].Chunk.ID != tableID || out[3].Score != continuation.Score*0.85 {
		t.Fatalf("linked table expansion: id=%v score=%v", out[3].Chunk.ID, out[3].Score)
	}
	if out[4].Chunk.ID != parentID || out[4].Score != continuation.Score*0.75 {
		t.Fatalf("parent expansion: id=%v score=%v", out[4].Chunk.ID, out[4].Score)
	}
}

func TestExpandSummarizationOnlyParents(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	parentID := uuid.New()
	cont := &chunks.ScoredChunk{
		Chunk: &domain.Chunk{ID: uuid.New()},
		Metadata: map[string]any{
			"is_continuation":  true,
			"parent_chunk_id":  parentID.String(),
			"linked_table_ids": []any{uuid.New().String()},
		},
		Score: 1.0,
	}
	repo := &fakeChunkRepo{byID: map[uuid.UUID]*chunks.ScoredChunk{
		parentID: {Chunk: &domain.Chunk{ID: parentID}, Metadata: map[string]any{}},
	}}
	e := NewExpander(log, repo, DefaultExpandConfig())
	out, err := e.Expand(dbctx.New(context.Background()), []*chunks.ScoredChunk{cont}, QuerySummarization)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(out) != 2 || out[1].Chunk.ID != parentID {
		t.Fatalf("summarization must expand parents only: %d results", len(out))
	}
}

func TestExpandDataExtractionParentSurvivesCap(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	tableA := uuid.New()
	tableB := uuid.New()
	parentID := uuid.New()

	// Two linked tables already spend the per-chunk cap of two.
	cont := &chunks.ScoredChunk{
		Chunk: &domain.Chunk{ID: uuid.New()},
		Metadata: map[string]any{
			"is_continuation":  true,
			"parent_chunk_id":  parentID.String(),
			"linked_table_ids": []any{tableA.String(), tableB.String()},
		},
		Score: 0.9,
	}
	repo := &fakeChunkRepo{byID: map[uuid.UUID]*chunks.ScoredChunk{
		tableA:   {Chunk: &domain.Chunk{ID: tableA}, Metadata: map[string]any{}},
		tableB:   {Chunk: &domain.Chunk{ID: tableB}, Metadata: map[string]any{}},
		parentID: {Chunk: &domain.Chunk{ID: parentID}, Metadata: map[string]any{}},
	}}
	e := NewExpander(log, repo, DefaultExpandConfig())
	out, err := e.Expand(dbctx.New(context.Background()), []*chunks.ScoredChunk{cont}, QueryDataExtraction)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("expanded size: want=4 got=%d", len(out))
	}
	if out[3].Chunk.ID != parentID {
		t.Fatalf("continuation parent dropped by cap: got=%v", out[3].Chunk.ID)
	}
	if out[3].Metadata["_expansion_reason"] != "continuation_parent" {
		t.Fatalf("reason: %v", out[3].Metadata["_expansion_reason"])
	}

	// Other query types still honor the cap for tables.
	if out[1].Chunk.ID != tableA || out[2].Chunk.ID != tableB {
		t.Fatalf("linked table order: %v, %v", out[1].Chunk.ID, out[2].Chunk.ID)
	}
}
