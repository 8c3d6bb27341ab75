package app

import (
	"fmt"

	"github.com/yungbote/recall-backend/internal/config"
	"github.com/yungbote/recall-backend/internal/data/graph"
	"github.com/yungbote/recall-backend/internal/jobs/pipeline/message_enrich"
	jobruntime "github.com/yungbote/recall-backend/internal/jobs/runtime"
	"github.com/yungbote/recall-backend/internal/jobs/worker"
	"github.com/yungbote/recall-backend/internal/modules/memory"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
	"github.com/yungbote/recall-backend/internal/services"
	"github.com/yungbote/recall-backend/internal/temporalx/temporalworker"
)

type Services struct {
	// Memory core
	Enricher   *memory.Enricher
	Retriever  *memory.Retriever
	Backfiller *memory.Backfiller

	// Jobs + notifications
	JobNotifier services.JobNotifier
	JobService  services.JobService

	// Job infra. Exactly one of JobWorker / TemporalWorker is set.
	JobRegistry    *jobruntime.Registry
	JobWorker      *worker.Worker
	TemporalWorker *temporalworker.Runner
}

func wireServices(log *logger.Logger, cfg config.Config, repos Repos, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	var mirror memory.GraphMirror
	if clients.Neo4j != nil {
		mirror = graph.NewMemoryGraphMirror(clients.Neo4j, repos.KG, log)
	}

	enricher := memory.NewEnricher(memory.EnricherDeps{
		Log:                log,
		Embedder:           clients.OpenAI,
		Scorer:             memory.NewModelScorer(clients.OpenAI),
		Messages:           repos.Messages,
		KG:                 repos.KG,
		Mirror:             mirror,
		ScoringConcurrency: cfg.Worker.ScoringConcurrency,
	})
	retriever := memory.NewRetriever(log, clients.OpenAI, repos.Messages, memory.RetrieverConfig{
		DistanceThreshold: cfg.Memory.DistanceThreshold,
		ScoreThreshold:    cfg.Memory.ScoreThreshold,
		K:                 cfg.Memory.K,
	})
	backfiller := memory.NewBackfiller(log, clients.OpenAI, repos.Messages, memory.BackfillerConfig{
		BatchSize:   cfg.Worker.BackfillBatchSize,
		MaxAttempts: cfg.Worker.BackfillMaxRetries,
		Backoff:     cfg.Worker.BackfillBackoff(),
	})

	jobNotifier := services.NewJobNotifier(log, clients.JobBus, repos.JobEvents)
	jobService := services.NewJobService(log, repos.JobRuns, jobNotifier, services.JobServiceOptions{
		MaxAttempts:       cfg.Worker.MaxAttempts,
		Events:            repos.JobEvents,
		Temporal:          clients.Temporal,
		TemporalTaskQueue: cfg.Temporal.TaskQueue,
	})

	jobRegistry := jobruntime.NewRegistry()
	if err := jobRegistry.Register(message_enrich.New(log, enricher)); err != nil {
		return Services{}, fmt.Errorf("register message_enrich: %w", err)
	}

	out := Services{
		Enricher:    enricher,
		Retriever:   retriever,
		Backfiller:  backfiller,
		JobNotifier: jobNotifier,
		JobService:  jobService,
		JobRegistry: jobRegistry,
	}

	if clients.Temporal != nil {
		runner, err := temporalworker.NewRunner(log, cfg, clients.Temporal, repos.JobRuns, jobRegistry, jobNotifier)
		if err != nil {
			return Services{}, fmt.Errorf("init temporal worker: %w", err)
		}
		out.TemporalWorker = runner
		return out, nil
	}

	out.JobWorker = worker.NewWorker(log, repos.JobRuns, jobRegistry, jobNotifier, worker.Options{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval(),
		StaleRunning: cfg.Worker.StaleRunning(),
		Retry:        jobruntime.RetryPolicy{BackoffBase: cfg.Worker.BackoffBase()},
	})
	return out, nil
}
