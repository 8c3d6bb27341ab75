package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/recall-backend/internal/http/handlers"
	httpMW "github.com/yungbote/recall-backend/internal/http/middleware"
	"github.com/yungbote/recall-backend/internal/observability"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

type RouterConfig struct {
	Log     *logger.Logger
	Metrics *observability.Metrics

	// ServiceName labels otelgin spans; empty disables HTTP tracing.
	ServiceName      string
	CORSAllowOrigins []string
	CronSecret       string

	HealthHandler    *httpH.HealthHandler
	MessageHandler   *httpH.MessageHandler
	MemoryHandler    *httpH.MemoryHandler
	JobHandler       *httpH.JobHandler
	EmbeddingHandler *httpH.EmbeddingHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	if cfg.Log != nil {
		r.Use(httpMW.RequestLogger(cfg.Log))
	}
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSAllowOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.Healthz)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		// Messages
		if cfg.MessageHandler != nil {
			api.POST("/messages/:id/enrich", cfg.MessageHandler.Enrich)
		}

		// Memory
		if cfg.MemoryHandler != nil {
			api.POST("/memories/retrieve", cfg.MemoryHandler.Retrieve)
		}

		// Job
		if cfg.JobHandler != nil {
			api.GET("/jobs/:id", cfg.JobHandler.GetJob)
			api.GET("/jobs/:id/events", cfg.JobHandler.ListEvents)
		}

		// Cron
		if cfg.EmbeddingHandler != nil {
			api.POST("/process-embeddings", httpMW.RequireCronSecret(cfg.CronSecret), cfg.EmbeddingHandler.ProcessPending)
		}
	}

	return r
}
