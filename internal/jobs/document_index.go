package jobs

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/ingestion/parser"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/qdrant"
)

// DocumentIndexPayload parameterizes the indexing pipeline.
type DocumentIndexPayload struct {
	Tier         string     `json:"tier"`
	CollectionID *uuid.UUID `json:"collection_id,omitempty"`
}

// HandleDocumentIndex runs parse, chunk, embed, store_vectors for one
// document. Completed stages persist their artifacts so a retried job resumes
// instead of re-parsing.
func (p *Pipelines) HandleDocumentIndex(dbc dbctx.Context, rt *Runtime) error {
	job := rt.Job()
	if job.DocumentID == nil {
		return rt.Fail(dbc, domain.StageParse, fmt.Errorf("document_index job without document_id"))
	}
	doc, err := p.docs.GetByID(dbc, job.TenantID, *job.DocumentID)
	if err != nil {
		return rt.Fail(dbc, domain.StageParse, err)
	}
	var payload DocumentIndexPayload
	if err := rt.DecodePayload(&payload); err != nil {
		return rt.Fail(dbc, domain.StageParse, err)
	}

	start := time.Now()
	var rows []domain.Chunk
	parserUsed := doc.ParserUsed
	pageCount := doc.PageCount

	if job.ChunkingCompleted && job.ChunksPath != "" {
		rt.Progress(dbc, domain.StageChunk, 45, "resuming from saved chunks")
		raw, err := rt.LoadArtifact(dbc.Ctx, job.ChunksPath)
		if err != nil {
			return rt.Fail(dbc, domain.StageChunk, err)
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return rt.Fail(dbc, domain.StageChunk, err)
		}
	} else {
		rt.Progress(dbc, domain.StageParse, 5, "parsing document")
		parsed, name, err := p.parseDocument(dbc, rt, doc, payload.Tier)
		if err != nil {
			p.markDocFailed(dbc, doc.ID, err)
			return rt.Fail(dbc, domain.StageParse, err)
		}
		parserUsed = name
		pageCount = parsed.PageCount

		rt.Progress(dbc, domain.StageChunk, 30, "chunking document")
		rows, err = p.chunker.Chunk(parsed, doc.Filename)
		if err != nil {
			p.markDocFailed(dbc, doc.ID, err)
			return rt.Fail(dbc, domain.StageChunk, err)
		}
		for i := range rows {
			rows[i].TenantID = job.TenantID
			rows[i].DocumentID = doc.ID
		}
		chunksJSON, err := json.Marshal(rows)
		if err != nil {
			return rt.Fail(dbc, domain.StageChunk, err)
		}
		chunksKey, err := rt.SaveArtifact(dbc.Ctx, "chunks.json", chunksJSON)
		if err != nil {
			return rt.Fail(dbc, domain.StageChunk, err)
		}
		if err := rt.StageDone(dbc, map[string]interface{}{
			"chunking_completed": true,
			"chunks_path":        chunksKey,
		}); err != nil {
			rt.Log().Warn("stage flag update failed", "error", err)
		}
	}

	rt.Progress(dbc, domain.StageEmbed, 55, fmt.Sprintf("embedding %d chunks", len(rows)))
	if err := p.embedChunks(dbc, rows); err != nil {
		p.markDocFailed(dbc, doc.ID, err)
		return rt.Fail(dbc, domain.StageEmbed, err)
	}
	if err := rt.StageDone(dbc, map[string]interface{}{"embedding_completed": true}); err != nil {
		rt.Log().Warn("stage flag update failed", "error", err)
	}

	rt.Progress(dbc, domain.StageStoreVectors, 80, "storing chunks and vectors")
	ptrs := make([]*domain.Chunk, len(rows))
	for i := range rows {
		ptrs[i] = &rows[i]
	}
	if err := p.chunkRepo.BulkInsert(dbc, ptrs); err != nil {
		p.markDocFailed(dbc, doc.ID, err)
		return rt.Fail(dbc, domain.StageStoreVectors, apierr.New(apierr.KindStorage, domain.StageStoreVectors, true, err))
	}
	if err := p.upsertVectors(dbc, job.TenantID, payload.CollectionID, rows); err != nil {
		p.markDocFailed(dbc, doc.ID, err)
		return rt.Fail(dbc, domain.StageStoreVectors, err)
	}
	if err := rt.StageDone(dbc, map[string]interface{}{"storing_completed": true}); err != nil {
		rt.Log().Warn("stage flag update failed", "error", err)
	}

	// Chunk rows just landed, so every collection holding this document has a
	// stale total_chunks.
	p.refreshCollectionCounters(dbc, rt, doc.ID)

	elapsed := time.Since(start).Milliseconds()
	if err := p.docs.MarkCompleted(dbc, doc.ID, len(rows), pageCount, elapsed, parserUsed); err != nil {
		return rt.Fail(dbc, domain.StageStoreVectors, err)
	}
	return rt.Succeed(dbc, fmt.Sprintf("indexed %d chunks across %d pages", len(rows), pageCount))
}

func (p *Pipelines) parseDocument(dbc dbctx.Context, rt *Runtime, doc *domain.Document, tier string) (*parser.Document, string, error) {
	rc, err := p.blobs.Download(dbc.Ctx, doc.FilePath)
	if err != nil {
		return nil, "", apierr.New(apierr.KindStorage, domain.StageParse, true, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", apierr.New(apierr.KindStorage, domain.StageParse, true, err)
	}

	sel, _, err := p.parsers.Select(parser.ParseTier(tier), doc.Filename, data)
	if err != nil {
		return nil, "", err
	}
	parsed, err := sel.Parse(dbc.Ctx, data, doc.Filename)
	if err != nil {
		return nil, sel.Name(), err
	}

	rawKey, err := rt.SaveArtifact(dbc.Ctx, "raw_text.txt", []byte(parsed.Text()))
	if err != nil {
		return nil, sel.Name(), err
	}
	if err := rt.StageDone(dbc, map[string]interface{}{
		"parsing_completed": true,
		"raw_text_path":     rawKey,
	}); err != nil {
		rt.Log().Warn("stage flag update failed", "error", err)
	}
	return parsed, sel.Name(), nil
}

// embedChunks fills Embedding on every row, batched against the provider.
func (p *Pipelines) embedChunks(dbc dbctx.Context, rows []domain.Chunk) error {
	for start := 0; start < len(rows); start += p.embedBatchSize {
		end := start + p.embedBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = rows[i].Text
		}
		vecs, err := p.llm.Embed(dbc.Ctx, texts)
		if err != nil {
			return err
		}
		if len(vecs) != len(texts) {
			return apierr.Newf(apierr.KindEmbedding, domain.StageEmbed, true,
				"embedding count mismatch: %d texts, %d vectors", len(texts), len(vecs))
		}
		for i := start; i < end; i++ {
			raw, err := json.Marshal(vecs[i-start])
			if err != nil {
				return err
			}
			rows[i].Embedding = datatypes.JSON(raw)
			rows[i].EmbeddingModel = p.llm.EmbedModel()
			rows[i].EmbeddingDimension = p.llm.EmbedDimension()
		}
	}
	return nil
}

func (p *Pipelines) upsertVectors(dbc dbctx.Context, tenantID uuid.UUID, collectionID *uuid.UUID, rows []domain.Chunk) error {
	if p.vectors == nil {
		return nil
	}
	vectors := make([]qdrant.Vector, 0, len(rows))
	for i := range rows {
		var values []float32
		if err := json.Unmarshal(rows[i].Embedding, &values); err != nil {
			continue
		}
		payload := map[string]any{
			"document_id": rows[i].DocumentID.String(),
			"chunk_index": rows[i].ChunkIndex,
			"page_number": rows[i].PageNumber,
			"is_tabular":  rows[i].IsTabular,
		}
		if collectionID != nil {
			payload["collection_id"] = collectionID.String()
		}
		vectors = append(vectors, qdrant.Vector{
			ID:       rows[i].ID.String(),
			Values:   values,
			Metadata: payload,
		})
	}
	return p.vectors.Upsert(dbc.Ctx, tenantID.String(), vectors)
}

func (p *Pipelines) refreshCollectionCounters(dbc dbctx.Context, rt *Runtime, documentID uuid.UUID) {
	ids, err := p.collections.CollectionsByDocument(dbc, documentID)
	if err != nil {
		rt.Log().Warn("collection lookup failed", "document_id", documentID.String(), "error", err)
		return
	}
	for _, cid := range ids {
		if err := p.collections.RecomputeCounters(dbc, cid); err != nil {
			rt.Log().Warn("collection counter recompute failed", "collection_id", cid.String(), "error", err)
		}
	}
}

func (p *Pipelines) markDocFailed(dbc dbctx.Context, id uuid.UUID, cause error) {
	msg := cause.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	if err := p.docs.MarkFailed(dbc, id, msg); err != nil {
		p.log.Error("document mark failed errored", "document_id", id.String(), "error", err)
	}
}
