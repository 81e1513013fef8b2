package app

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/docmindhq/docmind-backend/internal/chat"
	"github.com/docmindhq/docmind-backend/internal/data/db"
	chunksrepo "github.com/docmindhq/docmind-backend/internal/data/repos/chunks"
	collectionsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/collections"
	documentsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/documents"
	extractionsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/extractions"
	feedbackrepo "github.com/docmindhq/docmind-backend/internal/data/repos/feedback"
	jobsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/jobs"
	messagesrepo "github.com/docmindhq/docmind-backend/internal/data/repos/messages"
	sessionsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/sessions"
	templatesrepo "github.com/docmindhq/docmind-backend/internal/data/repos/templates"
	workflowsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/workflows"
	"github.com/docmindhq/docmind-backend/internal/extraction"
	httpapi "github.com/docmindhq/docmind-backend/internal/http"
	"github.com/docmindhq/docmind-backend/internal/http/handlers"
	"github.com/docmindhq/docmind-backend/internal/http/middleware"
	"github.com/docmindhq/docmind-backend/internal/ingestion/chunker"
	"github.com/docmindhq/docmind-backend/internal/ingestion/parser"
	"github.com/docmindhq/docmind-backend/internal/jobs"
	"github.com/docmindhq/docmind-backend/internal/observability"
	"github.com/docmindhq/docmind-backend/internal/platform/blobstore"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/envutil"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
	"github.com/docmindhq/docmind-backend/internal/platform/openai"
	"github.com/docmindhq/docmind-backend/internal/platform/qdrant"
	"github.com/docmindhq/docmind-backend/internal/platform/redisbus"
	"github.com/docmindhq/docmind-backend/internal/retrieval"
	"github.com/docmindhq/docmind-backend/internal/services"
	"github.com/docmindhq/docmind-backend/internal/workflow"
)

// App owns every long-lived component: database, redis, blob store, vector
// store, job worker, and the HTTP engine. New wires, Run serves.
type App struct {
	log      *logger.Logger
	router   http.Handler
	worker   *jobs.Worker
	bus      redisbus.ProgressBus
	shutdown []func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	log, err := logger.New(envutil.GetEnv("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	otelStop := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: envutil.GetEnv("OTEL_SERVICE_NAME", "docmind-backend"),
		Environment: envutil.GetEnv("APP_ENV", "development"),
		Version:     envutil.GetEnv("APP_VERSION", "dev"),
	})

	// Postgres
	pg, err := db.NewPostgresService(log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	thePG := pg.DB()

	// Redis: one client shared by the progress bus and the summary cache.
	redisAddr := strings.TrimSpace(envutil.GetEnv("REDIS_ADDR", ""))
	if redisAddr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     redisAddr,
		Password: envutil.GetEnv("REDIS_PASSWORD", ""),
		DB:       envutil.GetEnvInt("REDIS_DB", 0),
	})
	bus := redisbus.NewProgressBusWithClient(log, rdb)
	summaryCache, err := redisbus.NewSummaryCache(log, rdb)
	if err != nil {
		return nil, fmt.Errorf("init summary cache: %w", err)
	}

	// Blob store
	blobs, err := blobstore.New(log)
	if err != nil {
		return nil, fmt.Errorf("init blob store: %w", err)
	}

	// OpenAI
	llm, err := openai.NewClient(log)
	if err != nil {
		return nil, fmt.Errorf("init openai client: %w", err)
	}

	// Qdrant is optional: without it dense search falls back to the SQL
	// cosine path.
	var vectors qdrant.VectorStore
	if url := strings.TrimSpace(envutil.GetEnv("QDRANT_URL", "")); url != "" {
		vectors, err = qdrant.NewVectorStore(log, qdrant.Config{
			URL:        url,
			APIKey:     envutil.GetEnv("QDRANT_API_KEY", ""),
			Collection: envutil.GetEnv("QDRANT_COLLECTION", "docmind_chunks"),
			VectorDim:  llm.EmbedDimension(),
		})
		if err != nil {
			log.Warn("qdrant init failed, dense search uses sql fallback", "error", err)
			vectors = nil
		}
	} else {
		log.Info("QDRANT_URL unset, dense search uses sql fallback")
	}

	// Repos
	docRepo := documentsrepo.NewDocumentRepo(thePG, log)
	chunkRepo := chunksrepo.NewChunkRepo(thePG, log, envutil.GetEnvFloat("LEXICAL_TABLE_BOOST", 1.2))
	collectionRepo := collectionsrepo.NewCollectionRepo(thePG, log)
	sessionRepo := sessionsrepo.NewSessionRepo(thePG, log)
	messageRepo := messagesrepo.NewMessageRepo(thePG, log)
	jobRepo := jobsrepo.NewJobRepo(thePG, log)
	extractionRepo := extractionsrepo.NewExtractionRepo(thePG, log)
	wfRepo := workflowsrepo.NewWorkflowRepo(thePG, log)
	runRepo := workflowsrepo.NewWorkflowRunRepo(thePG, log)
	templateRepo := templatesrepo.NewTemplateRepo(thePG, log)
	fbRepo := feedbackrepo.NewFeedbackRepo(thePG, log)

	// Ingestion: premium parsers degrade to nil when their cloud clients
	// cannot init; the registry reports upgrade_required for those tiers.
	visionOCR, err := parser.NewVisionOCRParser(log)
	if err != nil {
		log.Warn("vision ocr unavailable", "error", err)
		visionOCR = nil
	}
	documentAI, err := parser.NewDocumentAIParser(log)
	if err != nil {
		log.Warn("document ai unavailable", "error", err)
		documentAI = nil
	}
	parsers := parser.NewRegistry(log, visionOCR, documentAI)
	smartChunker := chunker.New(log, chunker.Config{})

	// Retrieval + chat
	hybrid := retrieval.NewHybridRetriever(log, chunkRepo, vectors, llm, retrieval.HybridConfig{})
	reranker := retrieval.NewReranker(log, llm, retrieval.RerankConfig{})
	expander := retrieval.NewExpander(log, chunkRepo, retrieval.ExpandConfig{})
	memory := chat.NewMemory(log, sessionRepo, messageRepo, summaryCache, llm, chat.MemoryConfig{})
	compare := chat.NewComparisonEngine(log, chat.ComparisonConfig{})

	// Workflow engine + definitions
	engine := workflow.NewEngine(log, hybrid, reranker, llm, workflow.EngineConfig{})
	defsDir := envutil.GetEnv("WORKFLOW_DEFS_DIR", "workflows")
	if defs, err := workflow.LoadDefinitions(defsDir); err != nil {
		log.Warn("workflow definitions not loaded", "dir", defsDir, "error", err)
	} else if err := workflow.SyncDefinitions(dbctx.New(ctx), wfRepo, defs, log); err != nil {
		return nil, fmt.Errorf("sync workflow definitions: %w", err)
	}

	extractor := extraction.NewPipeline(log, llm, extraction.Config{})

	// Services
	documentSvc := services.NewDocumentService(log, docRepo, collectionRepo, jobRepo, blobs, vectors)
	collectionSvc := services.NewCollectionService(log, collectionRepo, docRepo)
	chatSvc := services.NewChatService(log, sessionRepo, messageRepo, docRepo, extractionRepo,
		memory, hybrid, reranker, expander, compare, llm, services.ChatConfig{})
	workflowSvc := services.NewWorkflowService(log, wfRepo, runRepo, docRepo, jobRepo)
	extractionSvc := services.NewExtractionService(log, extractionRepo, docRepo, jobRepo)
	templateSvc := services.NewTemplateService(log, templateRepo, docRepo, jobRepo, blobs)
	feedbackSvc := services.NewFeedbackService(log, fbRepo)
	jobSvc := services.NewJobService(log, jobRepo)

	// Job worker
	worker := jobs.NewWorker(log, jobRepo, bus, blobs, jobs.WorkerConfig{})
	pipelines := jobs.NewPipelines(log, jobs.PipelineDeps{
		Docs:        docRepo,
		ChunkRepo:   chunkRepo,
		Collections: collectionRepo,
		ExtrRepo:    extractionRepo,
		WfRepo:      wfRepo,
		RunRepo:     runRepo,
		TmplRepo:    templateRepo,
		Parsers:     parsers,
		Chunker:     smartChunker,
		LLM:         llm,
		Vectors:     vectors,
		Blobs:       blobs,
		Extractor:   extractor,
		Engine:      engine,
	})
	pipelines.Register(worker)

	// HTTP
	authMW, err := middleware.NewAuthMiddleware(log)
	if err != nil {
		return nil, fmt.Errorf("init auth middleware: %w", err)
	}
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Log:                log,
		AuthMiddleware:     authMW,
		HealthcheckHandler: handlers.NewHealthcheckHandler(),
		DocumentHandler:    handlers.NewDocumentHandler(documentSvc),
		CollectionHandler:  handlers.NewCollectionHandler(collectionSvc),
		SessionHandler:     handlers.NewSessionHandler(chatSvc),
		WorkflowHandler:    handlers.NewWorkflowHandler(workflowSvc),
		ExtractionHandler:  handlers.NewExtractionHandler(extractionSvc),
		TemplateHandler:    handlers.NewTemplateHandler(templateSvc),
		FeedbackHandler:    handlers.NewFeedbackHandler(feedbackSvc),
		JobHandler:         handlers.NewJobHandler(jobSvc),
		JobStreamHandler:   handlers.NewJobStreamHandler(log, jobSvc, bus),
	})

	app := &App{
		log:    log,
		router: router,
		worker: worker,
		bus:    bus,
	}
	if otelStop != nil {
		app.shutdown = append(app.shutdown, otelStop)
	}
	return app, nil
}

// Run serves HTTP and the embedded job worker until SIGINT/SIGTERM, then
// drains with a bounded grace period.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go a.worker.Run(ctx)

	addr := envutil.GetEnv("HTTP_ADDR", ":8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", "error", err)
	}
	for _, fn := range a.shutdown {
		if err := fn(shutdownCtx); err != nil {
			a.log.Warn("component shutdown", "error", err)
		}
	}
	if err := a.bus.Close(); err != nil {
		a.log.Warn("bus close", "error", err)
	}
	return nil
}
