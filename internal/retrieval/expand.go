package retrieval

import (
	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/data/repos/chunks"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

type ExpandConfig struct {
	MaxPerChunk int
	// Dampening factors keep expanded chunks below their origin's score.
	TableFactor       float64
	LinkedTableFactor float64
	ParentFactor      float64
}

func DefaultExpandConfig() ExpandConfig {
	return ExpandConfig{
		MaxPerChunk:       2,
		TableFactor:       0.90,
		LinkedTableFactor: 0.85,
		ParentFactor:      0.75,
	}
}

// Expander pulls in related chunks (linked narratives, linked tables,
// continuation parents) guided by query type. All expansion IDs are fetched
// in one batch; no per-chunk queries.
type Expander struct {
	log    *logger.Logger
	chunks chunks.ChunkRepo
	cfg    ExpandConfig
}

func NewExpander(log *logger.Logger, repo chunks.ChunkRepo, cfg ExpandConfig) *Expander {
	if cfg.MaxPerChunk <= 0 {
		cfg = DefaultExpandConfig()
	}
	return &Expander{log: log.With("service", "ContextExpander"), chunks: repo, cfg: cfg}
}

type expansionRef struct {
	originIdx int
	reason    string
	factor    float64
}

func (e *Expander) Expand(dbc dbctx.Context, ranked []*chunks.ScoredChunk, queryType QueryType) ([]*chunks.ScoredChunk, error) {
	if len(ranked) == 0 {
		return ranked, nil
	}
	present := map[uuid.UUID]bool{}
	for _, sc := range ranked {
		present[sc.Chunk.ID] = true
	}

	refs := map[uuid.UUID]expansionRef{}
	order := []uuid.UUID{}
	add := func(originIdx int, idStr, reason string, factor float64) {
		id, err := uuid.Parse(idStr)
		if err != nil || present[id] {
			return
		}
		if _, dup := refs[id]; dup {
			return
		}
		refs[id] = expansionRef{originIdx: originIdx, reason: reason, factor: factor}
		order = append(order, id)
	}

	for i, sc := range ranked {
		plan := e.planFor(queryType, sc)
		count := 0
		for _, p := range plan {
			// Exempt entries ride along even when the per-chunk cap is
			// spent: a data-extraction continuation still needs its parent
			// after two linked tables.
			if !p.exempt {
				if count >= e.cfg.MaxPerChunk {
					continue
				}
				count++
			}
			add(i, p.id, p.reason, p.factor)
		}
	}
	if len(order) == 0 {
		return ranked, nil
	}

	fetched, err := e.chunks.FetchMany(dbc, order)
	if err != nil {
		return nil, err
	}
	byID := map[uuid.UUID]*chunks.ScoredChunk{}
	for _, sc := range fetched {
		byID[sc.Chunk.ID] = sc
	}

	// Append each expansion right after its origin so it never outranks it.
	out := make([]*chunks.ScoredChunk, 0, len(ranked)+len(fetched))
	for i, origin := range ranked {
		out = append(out, origin)
		for _, id := range order {
			ref := refs[id]
			if ref.originIdx != i {
				continue
			}
			exp, ok := byID[id]
			if !ok {
				continue
			}
			exp.Score = origin.Score * ref.factor
			exp.Metadata["_expansion_reason"] = ref.reason
			exp.Metadata["_expanded_from"] = origin.Chunk.ID.String()
			out = append(out, exp)
		}
	}
	return out, nil
}

type planned struct {
	id     string
	reason string
	factor float64
	// exempt entries bypass the per-chunk cap.
	exempt bool
}

// planFor builds the per-chunk expansion plan for a query type.
func (e *Expander) planFor(queryType QueryType, sc *chunks.ScoredChunk) []planned {
	var plan []planned
	meta := sc.Metadata

	narrativeID, _ := meta["linked_narrative_id"].(string)
	parentID, _ := meta["parent_chunk_id"].(string)
	isContinuation, _ := meta["is_continuation"].(bool)
	var tableIDs []string
	if raw, ok := meta["linked_table_ids"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				tableIDs = append(tableIDs, s)
			}
		}
	}

	addNarrative := func() {
		if sc.Chunk.IsTabular && narrativeID != "" {
			plan = append(plan, planned{id: narrativeID, reason: "table_narrative", factor: e.cfg.TableFactor})
		}
	}
	addTables := func(max int) {
		if sc.Chunk.IsTabular {
			return
		}
		for i, id := range tableIDs {
			if i >= max {
				break
			}
			plan = append(plan, planned{id: id, reason: "linked_table", factor: e.cfg.LinkedTableFactor})
		}
	}
	addParent := func(exempt bool) {
		if isContinuation && parentID != "" {
			plan = append(plan, planned{id: parentID, reason: "continuation_parent", factor: e.cfg.ParentFactor, exempt: exempt})
		}
	}

	switch queryType {
	case QueryDataExtraction:
		// The parent must survive even when linked tables spend the cap.
		addNarrative()
		addTables(2)
		addParent(true)
	case QuerySummarization:
		addParent(false)
	case QueryEntityLookup:
		addNarrative()
	default: // general_qa, comparison
		addNarrative()
		addTables(e.cfg.MaxPerChunk)
		addParent(false)
	}
	return plan
}
