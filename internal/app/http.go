package app

import (
	"database/sql"

	"github.com/yungbote/recall-backend/internal/config"
	"github.com/yungbote/recall-backend/internal/http"
	httpH "github.com/yungbote/recall-backend/internal/http/handlers"
	"github.com/yungbote/recall-backend/internal/observability"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

type Handlers struct {
	Health    *httpH.HealthHandler
	Message   *httpH.MessageHandler
	Memory    *httpH.MemoryHandler
	Job       *httpH.JobHandler
	Embedding *httpH.EmbeddingHandler
}

func wireHandlers(log *logger.Logger, sqlDB *sql.DB, services Services) Handlers {
	log.Info("Wiring handlers...")
	var pinger httpH.Pinger
	if sqlDB != nil {
		pinger = sqlDB
	}
	return Handlers{
		Health:    httpH.NewHealthHandler(pinger),
		Message:   httpH.NewMessageHandler(services.JobService),
		Memory:    httpH.NewMemoryHandler(services.Retriever),
		Job:       httpH.NewJobHandler(services.JobService),
		Embedding: httpH.NewEmbeddingHandler(services.Backfiller),
	}
}

func wireServer(log *logger.Logger, cfg config.Config, handlers Handlers, metrics *observability.Metrics) *http.Server {
	serviceName := ""
	if cfg.Observability.OTelEnabled {
		serviceName = cfg.Observability.ServiceName
	}
	return http.NewServer(http.RouterConfig{
		Log:              log,
		Metrics:          metrics,
		ServiceName:      serviceName,
		CORSAllowOrigins: cfg.HTTP.CORSAllowOrigins,
		CronSecret:       cfg.HTTP.CronSecret,
		HealthHandler:    handlers.Health,
		MessageHandler:   handlers.Message,
		MemoryHandler:    handlers.Memory,
		JobHandler:       handlers.Job,
		EmbeddingHandler: handlers.Embedding,
	})
}
