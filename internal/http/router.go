package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/docmindhq/docmind-backend/internal/http/handlers"
	"github.com/docmindhq/docmind-backend/internal/http/middleware"
	"github.com/docmindhq/docmind-backend/internal/platform/envutil"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	AuthMiddleware *middleware.AuthMiddleware

	HealthcheckHandler *handlers.HealthcheckHandler
	DocumentHandler    *handlers.DocumentHandler
	CollectionHandler  *handlers.CollectionHandler
	SessionHandler     *handlers.SessionHandler
	WorkflowHandler    *handlers.WorkflowHandler
	ExtractionHandler  *handlers.ExtractionHandler
	TemplateHandler    *handlers.TemplateHandler
	FeedbackHandler    *handlers.FeedbackHandler
	JobHandler         *handlers.JobHandler
	JobStreamHandler   *handlers.JobStreamHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(cfg.Log))
	router.Use(otelgin.Middleware(envutil.GetEnv("OTEL_SERVICE_NAME", "docmind-backend")))

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			envutil.GetEnv("CORS_ORIGIN", "http://localhost:3000"),
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", cfg.HealthcheckHandler.Healthcheck)

	// ===============
	// || Protected ||
	// ===============
	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())

	// Documents
	api.POST("/documents", cfg.DocumentHandler.Upload)
	api.GET("/documents", cfg.DocumentHandler.List)
	api.GET("/documents/:id", cfg.DocumentHandler.Get)
	api.DELETE("/documents/:id", cfg.DocumentHandler.Delete)
	api.GET("/documents/:id/download-url", cfg.DocumentHandler.DownloadURL)

	// Collections
	api.POST("/collections", cfg.CollectionHandler.Create)
	api.GET("/collections", cfg.CollectionHandler.List)
	api.GET("/collections/:id", cfg.CollectionHandler.Get)
	api.DELETE("/collections/:id", cfg.CollectionHandler.Delete)
	api.PUT("/collections/:id/documents/:document_id", cfg.CollectionHandler.AddDocument)
	api.DELETE("/collections/:id/documents/:document_id", cfg.CollectionHandler.RemoveDocument)

	// Chat sessions
	api.POST("/sessions", cfg.SessionHandler.Create)
	api.GET("/sessions", cfg.SessionHandler.List)
	api.GET("/sessions/:id", cfg.SessionHandler.Get)
	api.DELETE("/sessions/:id", cfg.SessionHandler.Delete)
	api.PUT("/sessions/:id/documents/:document_id", cfg.SessionHandler.LinkDocument)
	api.DELETE("/sessions/:id/documents/:document_id", cfg.SessionHandler.UnlinkDocument)
	api.POST("/sessions/:id/messages", cfg.SessionHandler.SendMessage)

	// Workflows
	api.GET("/workflows", cfg.WorkflowHandler.List)
	api.GET("/workflows/:id", cfg.WorkflowHandler.Get)
	api.POST("/workflows/:id/runs", cfg.WorkflowHandler.Run)
	api.GET("/workflow-runs", cfg.WorkflowHandler.ListRuns)
	api.GET("/workflow-runs/:id", cfg.WorkflowHandler.GetRun)

	// Extractions
	api.POST("/extractions", cfg.ExtractionHandler.Create)
	api.GET("/extractions", cfg.ExtractionHandler.List)
	api.GET("/extractions/:id", cfg.ExtractionHandler.Get)

	// Templates
	api.POST("/templates", cfg.TemplateHandler.Upload)
	api.GET("/templates/:id", cfg.TemplateHandler.Get)
	api.POST("/templates/:id/fill-runs", cfg.TemplateHandler.CreateFillRun)
	api.GET("/fill-runs/:id", cfg.TemplateHandler.GetFillRun)
	api.POST("/fill-runs/:id/review", cfg.TemplateHandler.ReviewFillRun)

	// Feedback
	api.POST("/feedback", cfg.FeedbackHandler.Create)
	api.GET("/feedback", cfg.FeedbackHandler.List)

	// Jobs
	api.GET("/jobs/:id", cfg.JobHandler.Get)
	api.POST("/jobs/:id/retry", cfg.JobHandler.Retry)
	api.GET("/jobs/:id/events", cfg.JobStreamHandler.Stream)

	return router
}
