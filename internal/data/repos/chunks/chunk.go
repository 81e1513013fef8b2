package chunks

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

// Scope restricts a search to either one collection (joined through
// membership) or an explicit document id set. Exactly one must be supplied.
type Scope struct {
	CollectionID *uuid.UUID
	DocumentIDs  []uuid.UUID
}

func (s Scope) validate() error {
	hasCollection := s.CollectionID != nil && *s.CollectionID != uuid.Nil
	hasDocs := len(s.DocumentIDs) > 0
	if hasCollection == hasDocs {
		return fmt.Errorf("%w: scope requires exactly one of collection_id or document_ids", apierr.ErrInvalidArgument)
	}
	return nil
}

// ScoredChunk is the normalized handoff form: Metadata is always a map and
// always carries document_filename.
type ScoredChunk struct {
	Chunk    *domain.Chunk
	Metadata map[string]any
	Score    float64
}

type ChunkRepo interface {
	BulkInsert(dbc dbctx.Context, rows []*domain.Chunk) error
	ListByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*domain.Chunk, error)
	CountForDocuments(dbc dbctx.Context, documentIDs []uuid.UUID) (int64, error)
	FetchMany(dbc dbctx.Context, ids []uuid.UUID) ([]*ScoredChunk, error)
	GetByPage(dbc dbctx.Context, documentID uuid.UUID, page int) ([]*ScoredChunk, error)
	SemanticSearch(dbc dbctx.Context, tenantID uuid.UUID, embedding []float32, scope Scope, k int, threshold *float64) ([]*ScoredChunk, error)
	KeywordSearch(dbc dbctx.Context, tenantID uuid.UUID, query string, scope Scope, k int, preferTables bool) ([]*ScoredChunk, error)
}

type chunkRepo struct {
	db         *gorm.DB
	log        *logger.Logger
	tableBoost float64
}

func NewChunkRepo(db *gorm.DB, baseLog *logger.Logger, tableBoost float64) ChunkRepo {
	if tableBoost <= 0 {
		tableBoost = 1.2
	}
	return &chunkRepo{db: db, log: baseLog.With("repo", "ChunkRepo"), tableBoost: tableBoost}
}

func (r *chunkRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *chunkRepo) BulkInsert(dbc dbctx.Context, rows []*domain.Chunk) error {
	if len(rows) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).CreateInBatches(&rows, 200).Error
}

func (r *chunkRepo) ListByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*domain.Chunk, error) {
	if documentID == uuid.Nil {
		return nil, apierr.ErrInvalidArgument
	}
	var rows []*domain.Chunk
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&rows).Error
	return rows, err
}

func (r *chunkRepo) CountForDocuments(dbc dbctx.Context, documentIDs []uuid.UUID) (int64, error) {
	if len(documentIDs) == 0 {
		return 0, nil
	}
	var count int64
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Chunk{}).
		Where("document_id IN ?", documentIDs).
		Count(&count).Error
	return count, err
}

func (r *chunkRepo) FetchMany(dbc dbctx.Context, ids []uuid.UUID) ([]*ScoredChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []*domain.Chunk
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return r.normalizeAll(dbc, rows, nil)
}

func (r *chunkRepo) GetByPage(dbc dbctx.Context, documentID uuid.UUID, page int) ([]*ScoredChunk, error) {
	var rows []*domain.Chunk
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("document_id = ? AND page_number = ?", documentID, page).
		Order("chunk_index ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return r.normalizeAll(dbc, rows, nil)
}

func (r *chunkRepo) scoped(dbc dbctx.Context, tenantID uuid.UUID, scope Scope) *gorm.DB {
	q := r.tx(dbc).WithContext(dbc.Ctx).Model(&domain.Chunk{}).Where("chunk.tenant_id = ?", tenantID)
	if scope.CollectionID != nil && *scope.CollectionID != uuid.Nil {
		q = q.Joins("JOIN collection_document cd ON cd.document_id = chunk.document_id").
			Where("cd.collection_id = ?", *scope.CollectionID)
	} else {
		q = q.Where("chunk.document_id IN ?", scope.DocumentIDs)
	}
	return q
}

// SemanticSearch scores by cosine similarity over the stored embeddings and
// min-max normalizes similarities to [0,1] within the returned page.
func (r *chunkRepo) SemanticSearch(dbc dbctx.Context, tenantID uuid.UUID, embedding []float32, scope Scope, k int, threshold *float64) ([]*ScoredChunk, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	if len(embedding) == 0 || k <= 0 {
		return nil, nil
	}
	var rows []*domain.Chunk
	if err := r.scoped(dbc, tenantID, scope).
		Where("chunk.embedding IS NOT NULL").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	type scored struct {
		chunk *domain.Chunk
		sim   float64
	}
	cands := make([]scored, 0, len(rows))
	for _, c := range rows {
		vec := EmbeddingVector(c)
		if len(vec) != len(embedding) {
			continue
		}
		sim := Cosine(embedding, vec)
		if threshold != nil && sim < *threshold {
			continue
		}
		cands = append(cands, scored{chunk: c, sim: sim})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].sim != cands[j].sim {
			return cands[i].sim > cands[j].sim
		}
		return cands[i].chunk.ID.String() < cands[j].chunk.ID.String()
	})
	if len(cands) > k {
		cands = cands[:k]
	}

	// Min-max normalize within the returned page for downstream fusion.
	lo, hi := 1.0, 0.0
	for _, c := range cands {
		lo = math.Min(lo, c.sim)
		hi = math.Max(hi, c.sim)
	}
	out := make([]*domain.Chunk, 0, len(cands))
	scores := make([]float64, 0, len(cands))
	for _, c := range cands {
		norm := 1.0
		if hi > lo {
			norm = (c.sim - lo) / (hi - lo)
		}
		out = append(out, c.chunk)
		scores = append(scores, norm)
	}
	return r.normalizeAll(dbc, out, scores)
}

// KeywordSearch ranks with Postgres ts_rank_cd under length normalization
// (BM25-like) and optionally boosts table chunks.
func (r *chunkRepo) KeywordSearch(dbc dbctx.Context, tenantID uuid.UUID, query string, scope Scope, k int, preferTables bool) ([]*ScoredChunk, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	if query == "" || k <= 0 {
		return nil, nil
	}

	type row struct {
		domain.Chunk
		Rank float64 `gorm:"column:rank"`
	}
	var rows []row
	q := r.scoped(dbc, tenantID, scope).
		Select("chunk.*, ts_rank_cd(to_tsvector('english', chunk.text), plainto_tsquery('english', ?), 1) AS rank", query).
		Where("to_tsvector('english', chunk.text) @@ plainto_tsquery('english', ?)", query).
		Order("rank DESC, chunk.id ASC").
		Limit(k * 2)
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	type scored struct {
		chunk *domain.Chunk
		rank  float64
	}
	cands := make([]scored, 0, len(rows))
	for i := range rows {
		c := rows[i].Chunk
		rank := rows[i].Rank
		if preferTables && c.IsTabular {
			rank *= r.tableBoost
		}
		cands = append(cands, scored{chunk: &c, rank: rank})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].rank != cands[j].rank {
			return cands[i].rank > cands[j].rank
		}
		return cands[i].chunk.ID.String() < cands[j].chunk.ID.String()
	})
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]*domain.Chunk, 0, len(cands))
	scores := make([]float64, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.chunk)
		scores = append(scores, c.rank)
	}
	return r.normalizeAll(dbc, out, scores)
}

// normalizeAll converts rows into the handoff form: metadata decoded into a
// map and document_filename filled from the document row when missing.
func (r *chunkRepo) normalizeAll(dbc dbctx.Context, rows []*domain.Chunk, scores []float64) ([]*ScoredChunk, error) {
	out := make([]*ScoredChunk, 0, len(rows))
	missing := map[uuid.UUID]bool{}
	for i, c := range rows {
		meta := DecodeMetadata(c)
		if fn, _ := meta["document_filename"].(string); fn == "" {
			missing[c.DocumentID] = true
		}
		sc := &ScoredChunk{Chunk: c, Metadata: meta}
		if scores != nil && i < len(scores) {
			sc.Score = scores[i]
		}
		out = append(out, sc)
	}
	if len(missing) > 0 {
		ids := make([]uuid.UUID, 0, len(missing))
		for id := range missing {
			ids = append(ids, id)
		}
		var docs []*domain.Document
		if err := r.tx(dbc).WithContext(dbc.Ctx).
			Select("id, filename").
			Where("id IN ?", ids).
			Find(&docs).Error; err != nil {
			return nil, err
		}
		names := map[uuid.UUID]string{}
		for _, d := range docs {
			names[d.ID] = d.Filename
		}
		for _, sc := range out {
			if fn, _ := sc.Metadata["document_filename"].(string); fn == "" {
				sc.Metadata["document_filename"] = names[sc.Chunk.DocumentID]
			}
		}
	}
	return out, nil
}

// DecodeMetadata always returns a map, never a JSON string.
func DecodeMetadata(c *domain.Chunk) map[string]any {
	meta := map[string]any{}
	if c == nil || len(c.Metadata) == 0 {
		return meta
	}
	if err := json.Unmarshal(c.Metadata, &meta); err != nil {
		// Some upstream writers double-encode; tolerate one level.
		var s string
		if err2 := json.Unmarshal(c.Metadata, &s); err2 == nil {
			_ = json.Unmarshal([]byte(s), &meta)
		}
	}
	return meta
}

func EmbeddingVector(c *domain.Chunk) []float32 {
	if c == nil || len(c.Embedding) == 0 {
		return nil
	}
	var vec []float32
	if err := json.Unmarshal(c.Embedding, &vec); err != nil {
		return nil
	}
	return vec
}

// Cosine returns the cosine similarity of two equal-length vectors.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
