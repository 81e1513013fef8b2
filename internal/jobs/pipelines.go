package jobs

import (
	"github.com/docmindhq/docmind-backend/internal/data/repos/chunks"
	"github.com/docmindhq/docmind-backend/internal/data/repos/collections"
	"github.com/docmindhq/docmind-backend/internal/data/repos/documents"
	"github.com/docmindhq/docmind-backend/internal/data/repos/extractions"
	"github.com/docmindhq/docmind-backend/internal/data/repos/templates"
	"github.com/docmindhq/docmind-backend/internal/data/repos/workflows"
	"github.com/docmindhq/docmind-backend/internal/extraction"
	"github.com/docmindhq/docmind-backend/internal/ingestion/chunker"
	"github.com/docmindhq/docmind-backend/internal/ingestion/parser"
	"github.com/docmindhq/docmind-backend/internal/platform/blobstore"
	"github.com/docmindhq/docmind-backend/internal/platform/envutil"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
	"github.com/docmindhq/docmind-backend/internal/platform/openai"
	"github.com/docmindhq/docmind-backend/internal/platform/qdrant"
	"github.com/docmindhq/docmind-backend/internal/workflow"
)

// Pipelines holds the dependencies the job handlers run on. Register wires
// each handler onto a worker.
type Pipelines struct {
	log *logger.Logger

	docs        documents.DocumentRepo
	chunkRepo   chunks.ChunkRepo
	collections collections.CollectionRepo
	extrRepo    extractions.ExtractionRepo
	wfRepo      workflows.WorkflowRepo
	runRepo     workflows.WorkflowRunRepo
	tmplRepo    templates.TemplateRepo

	parsers   *parser.Registry
	chunker   *chunker.SmartChunker
	llm       openai.Client
	vectors   qdrant.VectorStore // may be nil
	blobs     blobstore.Backend
	extractor *extraction.Pipeline
	engine    *workflow.Engine

	embedBatchSize int
	costPer1K      float64
}

type PipelineDeps struct {
	Docs        documents.DocumentRepo
	ChunkRepo   chunks.ChunkRepo
	Collections collections.CollectionRepo
	ExtrRepo    extractions.ExtractionRepo
	WfRepo      workflows.WorkflowRepo
	RunRepo     workflows.WorkflowRunRepo
	TmplRepo    templates.TemplateRepo
	Parsers     *parser.Registry
	Chunker     *chunker.SmartChunker
	LLM         openai.Client
	Vectors     qdrant.VectorStore
	Blobs       blobstore.Backend
	Extractor   *extraction.Pipeline
	Engine      *workflow.Engine
}

func NewPipelines(log *logger.Logger, d PipelineDeps) *Pipelines {
	return &Pipelines{
		log:            log.With("service", "JobPipelines"),
		docs:           d.Docs,
		chunkRepo:      d.ChunkRepo,
		collections:    d.Collections,
		extrRepo:       d.ExtrRepo,
		wfRepo:         d.WfRepo,
		runRepo:        d.RunRepo,
		tmplRepo:       d.TmplRepo,
		parsers:        d.Parsers,
		chunker:        d.Chunker,
		llm:            d.LLM,
		vectors:        d.Vectors,
		blobs:          d.Blobs,
		extractor:      d.Extractor,
		engine:         d.Engine,
		embedBatchSize: envutil.GetEnvInt("EMBED_BATCH_SIZE", 64),
		costPer1K:      envutil.GetEnvFloat("LLM_COST_PER_1K_TOKENS", 0.01),
	}
}

func (p *Pipelines) Register(w *Worker) {
	w.Register(TypeDocumentIndex, p.HandleDocumentIndex)
	w.Register(TypeExtraction, p.HandleExtraction)
	w.Register(TypeWorkflowRun, p.HandleWorkflowRun)
	w.Register(TypeTemplateFill, p.HandleTemplateFill)
}

func (p *Pipelines) costOf(totalTokens int) float64 {
	return float64(totalTokens) / 1000 * p.costPer1K
}
