package chat

import (
	"sort"

	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/data/repos/chunks"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

// PairedChunks aligns a chunk from document A with its nearest counterpart
// in document B.
type PairedChunks struct {
	A          *chunks.ScoredChunk `json:"chunk_a"`
	B          *chunks.ScoredChunk `json:"chunk_b"`
	Similarity float64             `json:"similarity"`
	Topic      string              `json:"topic"`
}

// ClusteredChunks groups topically close chunks across three or more
// documents; Chunks maps document id to that document's member.
type ClusteredChunks struct {
	Chunks        map[uuid.UUID]*chunks.ScoredChunk `json:"chunks"`
	Topic         string                            `json:"topic"`
	AvgSimilarity float64                           `json:"avg_similarity"`
}

type ComparisonConfig struct {
	// SimilarityFloor drops pairings that are not actually about the same
	// thing.
	SimilarityFloor float64
	MaxPairs        int
	MaxClusters     int
}

func DefaultComparisonConfig() ComparisonConfig {
	return ComparisonConfig{SimilarityFloor: 0.5, MaxPairs: 8, MaxClusters: 6}
}

// ComparisonEngine builds the paired (2 docs) or clustered (3+ docs)
// structures comparison prompts render from.
type ComparisonEngine struct {
	log *logger.Logger
	cfg ComparisonConfig
}

func NewComparisonEngine(log *logger.Logger, cfg ComparisonConfig) *ComparisonEngine {
	if cfg.SimilarityFloor <= 0 {
		cfg = DefaultComparisonConfig()
	}
	return &ComparisonEngine{log: log.With("service", "ComparisonEngine"), cfg: cfg}
}

// Pair matches each top chunk of document A with the nearest chunk of
// document B by embedding cosine similarity, above the floor, sorted by
// similarity descending.
func (e *ComparisonEngine) Pair(docA, docB []*chunks.ScoredChunk) []PairedChunks {
	var pairs []PairedChunks
	for _, a := range docA {
		va := chunks.EmbeddingVector(a.Chunk)
		if len(va) == 0 {
			continue
		}
		var best *chunks.ScoredChunk
		bestSim := 0.0
		for _, b := range docB {
			vb := chunks.EmbeddingVector(b.Chunk)
			if len(vb) == 0 {
				continue
			}
			sim := chunks.Cosine(va, vb)
			if sim > bestSim {
				bestSim = sim
				best = b
			}
		}
		if best == nil || bestSim < e.cfg.SimilarityFloor {
			continue
		}
		pairs = append(pairs, PairedChunks{A: a, B: best, Similarity: bestSim, Topic: topicOf(a)})
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].Similarity > pairs[j].Similarity })
	if len(pairs) > e.cfg.MaxPairs {
		pairs = pairs[:e.cfg.MaxPairs]
	}
	return pairs
}

// Cluster seeds one cluster per top chunk of the first document and attaches
// the nearest chunk from every other document that clears the floor. Clusters
// that cover fewer than two documents are dropped.
func (e *ComparisonEngine) Cluster(byDoc map[uuid.UUID][]*chunks.ScoredChunk, docOrder []uuid.UUID) []ClusteredChunks {
	if len(docOrder) < 3 {
		return nil
	}
	seeds := byDoc[docOrder[0]]
	var clusters []ClusteredChunks
	for _, seed := range seeds {
		vs := chunks.EmbeddingVector(seed.Chunk)
		if len(vs) == 0 {
			continue
		}
		members := map[uuid.UUID]*chunks.ScoredChunk{docOrder[0]: seed}
		simSum := 0.0
		for _, docID := range docOrder[1:] {
			var best *chunks.ScoredChunk
			bestSim := 0.0
			for _, cand := range byDoc[docID] {
				vc := chunks.EmbeddingVector(cand.Chunk)
				if len(vc) == 0 {
					continue
				}
				sim := chunks.Cosine(vs, vc)
				if sim > bestSim {
					bestSim = sim
					best = cand
				}
			}
			if best != nil && bestSim >= e.cfg.SimilarityFloor {
				members[docID] = best
				simSum += bestSim
			}
		}
		if len(members) < 2 {
			continue
		}
		clusters = append(clusters, ClusteredChunks{
			Chunks:        members,
			Topic:         topicOf(seed),
			AvgSimilarity: simSum / float64(len(members)-1),
		})
		if len(clusters) >= e.cfg.MaxClusters {
			break
		}
	}
	sort.SliceStable(clusters, func(i, j int) bool { return clusters[i].AvgSimilarity > clusters[j].AvgSimilarity })
	return clusters
}

func topicOf(sc *chunks.ScoredChunk) string {
	if sc.Chunk.SectionHeading != "" {
		return sc.Chunk.SectionHeading
	}
	if fs, _ := sc.Metadata["first_sentence"].(string); fs != "" {
		return fs
	}
	if caption, _ := sc.Metadata["table_caption"].(string); caption != "" {
		return caption
	}
	return ""
}
