package retrieval

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/data/repos/chunks"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
	"github.com/docmindhq/docmind-backend/internal/platform/openai"
	"github.com/docmindhq/docmind-backend/internal/platform/qdrant"
)

type HybridConfig struct {
	RRFK int
	// CandidateFactor widens the per-list fetch before fusion.
	CandidateFactor int
	// Threshold filters dense results below this cosine similarity.
	Threshold *float64
	// Boost factors; each is applied at most once per chunk and the product
	// is capped by MaxBoost so boosting never dominates fusion.
	TableBoost   float64
	HeadingBoost float64
	MaxBoost     float64
}

func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		RRFK:            60,
		CandidateFactor: 2,
		TableBoost:      1.15,
		HeadingBoost:    1.10,
		MaxBoost:        1.30,
	}
}

// HybridRetriever fuses dense and lexical rankings with reciprocal rank
// fusion. Dense search goes to the vector store when the scope is an explicit
// document set; collection scopes and vector store failures fall back to the
// SQL cosine path.
type HybridRetriever struct {
	log     *logger.Logger
	chunks  chunks.ChunkRepo
	vectors qdrant.VectorStore // may be nil
	llm     openai.Client
	cfg     HybridConfig
}

func NewHybridRetriever(log *logger.Logger, repo chunks.ChunkRepo, vectors qdrant.VectorStore, llm openai.Client, cfg HybridConfig) *HybridRetriever {
	if cfg.RRFK <= 0 {
		cfg = DefaultHybridConfig()
	}
	return &HybridRetriever{
		log:     log.With("service", "HybridRetriever"),
		chunks:  repo,
		vectors: vectors,
		llm:     llm,
		cfg:     cfg,
	}
}

// Retrieve runs query analysis, both searches, fusion, and boosting. Empty
// result sets are valid.
func (r *HybridRetriever) Retrieve(dbc dbctx.Context, tenantID uuid.UUID, query string, scope chunks.Scope, k int) ([]*chunks.ScoredChunk, Analysis, error) {
	analysis := Classify(query)
	if k <= 0 {
		k = 10
	}
	fetchK := k * r.cfg.CandidateFactor

	dense, err := r.denseSearch(dbc, tenantID, query, scope, fetchK)
	if err != nil {
		return nil, analysis, err
	}
	lexical, err := r.chunks.KeywordSearch(dbc, tenantID, query, scope, fetchK, analysis.PreferTables)
	if err != nil {
		return nil, analysis, err
	}

	fused := FuseRRF(dense, lexical, r.cfg.RRFK)
	applyBoosts(fused, analysis, query, r.cfg)
	sortByHybrid(fused)
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, analysis, nil
}

func (r *HybridRetriever) denseSearch(dbc dbctx.Context, tenantID uuid.UUID, query string, scope chunks.Scope, k int) ([]*chunks.ScoredChunk, error) {
	vecs, err := r.llm.Embed(dbc.Ctx, []string{query})
	if err != nil {
		return nil, err
	}
	qvec := vecs[0]

	if r.vectors != nil && len(scope.DocumentIDs) > 0 {
		ids := make([]string, 0, len(scope.DocumentIDs))
		for _, id := range scope.DocumentIDs {
			ids = append(ids, id.String())
		}
		matches, err := r.vectors.QueryMatches(dbc.Ctx, tenantID.String(), qvec, k, map[string]any{"document_id": ids})
		if err == nil {
			return r.hydrateMatches(dbc, matches)
		}
		r.log.Warn("vector store query failed, falling back to SQL cosine", "error", err)
	}
	return r.chunks.SemanticSearch(dbc, tenantID, qvec, scope, k, r.cfg.Threshold)
}

// hydrateMatches loads chunk rows for vector store hits, preserving match
// order and scores.
func (r *HybridRetriever) hydrateMatches(dbc dbctx.Context, matches []qdrant.Match) ([]*chunks.ScoredChunk, error) {
	if len(matches) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(matches))
	scoreByID := map[uuid.UUID]float64{}
	for _, m := range matches {
		id, err := uuid.Parse(m.ID)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		scoreByID[id] = m.Score
	}
	rows, err := r.chunks.FetchMany(dbc, ids)
	if err != nil {
		return nil, err
	}
	byID := map[uuid.UUID]*chunks.ScoredChunk{}
	for _, sc := range rows {
		byID[sc.Chunk.ID] = sc
	}
	out := make([]*chunks.ScoredChunk, 0, len(ids))
	for _, id := range ids {
		if sc, ok := byID[id]; ok {
			sc.Score = scoreByID[id]
			out = append(out, sc)
		}
	}
	return out, nil
}

// FuseRRF merges two ranked lists by reciprocal rank fusion:
// score = Σ 1/(rrfK + rank) with 1-based ranks. Unique chunks keep their
// per-list ranks in metadata for diagnostics.
func FuseRRF(dense, lexical []*chunks.ScoredChunk, rrfK int) []*chunks.ScoredChunk {
	type entry struct {
		sc          *chunks.ScoredChunk
		score       float64
		denseRank   int
		keywordRank int
	}
	merged := map[uuid.UUID]*entry{}
	add := func(list []*chunks.ScoredChunk, isDense bool) {
		for i, sc := range list {
			rank := i + 1
			e, ok := merged[sc.Chunk.ID]
			if !ok {
				e = &entry{sc: sc}
				merged[sc.Chunk.ID] = e
			}
			e.score += 1.0 / float64(rrfK+rank)
			if isDense {
				e.denseRank = rank
			} else {
				e.keywordRank = rank
			}
		}
	}
	add(dense, true)
	add(lexical, false)

	out := make([]*chunks.ScoredChunk, 0, len(merged))
	for _, e := range merged {
		e.sc.Score = e.score
		e.sc.Metadata["hybrid_score"] = e.score
		if e.denseRank > 0 {
			e.sc.Metadata["semantic_rank"] = e.denseRank
		}
		if e.keywordRank > 0 {
			e.sc.Metadata["keyword_rank"] = e.keywordRank
		}
		out = append(out, e.sc)
	}
	sortByHybrid(out)
	return out
}

// applyBoosts multiplies hybrid scores by small query-type factors, capped so
// no chunk can leapfrog the fusion ordering by metadata alone.
func applyBoosts(cands []*chunks.ScoredChunk, a Analysis, query string, cfg HybridConfig) {
	terms := significantTerms(query)
	for _, sc := range cands {
		boost := 1.0
		if a.PreferTables && sc.Chunk.IsTabular {
			boost *= cfg.TableBoost
		}
		if a.Type == QueryEntityLookup && headingMatches(sc.Chunk.SectionHeading, terms) {
			boost *= cfg.HeadingBoost
		}
		if boost > cfg.MaxBoost {
			boost = cfg.MaxBoost
		}
		if boost != 1.0 {
			sc.Score *= boost
			sc.Metadata["hybrid_score"] = sc.Score
			sc.Metadata["metadata_boost"] = boost
		}
	}
}

func significantTerms(query string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= 4 {
			out = append(out, strings.Trim(w, ".,?!:;\"'"))
		}
	}
	return out
}

func headingMatches(heading string, terms []string) bool {
	h := strings.ToLower(heading)
	if h == "" {
		return false
	}
	for _, t := range terms {
		if strings.Contains(h, t) {
			return true
		}
	}
	return false
}

// sortByHybrid orders by score descending with a chunk-id tie-break so
// repeated retrievals on unchanged data return identical sequences.
func sortByHybrid(cands []*chunks.ScoredChunk) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Chunk.ID.String() < cands[j].Chunk.ID.String()
	})
}
