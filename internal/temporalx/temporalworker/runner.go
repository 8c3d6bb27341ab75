package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/recall-backend/internal/config"
	jobsrepo "github.com/yungbote/recall-backend/internal/data/repos/jobs"
	jobrt "github.com/yungbote/recall-backend/internal/jobs/runtime"
	"github.com/yungbote/recall-backend/internal/pkg/httpx"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
	"github.com/yungbote/recall-backend/internal/services"
	"github.com/yungbote/recall-backend/internal/temporalx"
	"github.com/yungbote/recall-backend/internal/temporalx/jobrun"
)

const (
	startMaxWait    = 60 * time.Second
	startBackoff    = 250 * time.Millisecond
	startBackoffMax = 5 * time.Second
)

type Runner struct {
	log *logger.Logger
	cfg config.TemporalConfig

	tc          temporalsdkclient.Client
	jobRepo     jobsrepo.JobRunRepo
	registry    *jobrt.Registry
	notify      services.JobNotifier
	concurrency int
	retry       jobrt.RetryPolicy
	stale       time.Duration
}

func NewRunner(
	log *logger.Logger,
	cfg config.Config,
	tc temporalsdkclient.Client,
	jobRepo jobsrepo.JobRunRepo,
	registry *jobrt.Registry,
	notify services.JobNotifier,
) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if jobRepo == nil || registry == nil {
		return nil, fmt.Errorf("temporal worker missing deps")
	}
	concurrency := cfg.Worker.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		log:         log.With("component", "TemporalWorker"),
		cfg:         cfg.Temporal,
		tc:          tc,
		jobRepo:     jobRepo,
		registry:    registry,
		notify:      notify,
		concurrency: concurrency,
		retry:       jobrt.RetryPolicy{BackoffBase: cfg.Worker.BackoffBase()},
		stale:       cfg.Worker.StaleRunning(),
	}, nil
}

// Start begins polling the task queue and stops the worker when ctx ends.
func (r *Runner) Start(ctx context.Context) error {
	if r == nil || r.tc == nil {
		return fmt.Errorf("temporal worker not initialized")
	}
	r.log.Info("Starting Temporal worker", "address", r.cfg.Address, "namespace", r.cfg.Namespace, "task_queue", r.cfg.TaskQueue)

	deadline := time.Now().Add(startMaxWait)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		w := r.newWorker()
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.log.Info("Temporal worker started", "task_queue", r.cfg.TaskQueue, "attempts", attempt)
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		missingNamespace := errors.As(startErr, &nfe)
		if missingNamespace && r.cfg.AutoRegisterNamespace {
			if err := temporalx.EnsureNamespace(ctx, r.log, r.cfg); err != nil {
				r.log.Warn("Temporal namespace ensure failed (continuing)", "namespace", r.cfg.Namespace, "error", err)
			}
		}
		if time.Now().After(deadline) {
			if missingNamespace {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", r.cfg.Namespace, startErr)
			}
			return startErr
		}
		r.log.Warn("Temporal worker failed to start; retrying", "task_queue", r.cfg.TaskQueue, "attempt", attempt, "error", startErr)
		time.Sleep(httpx.Backoff(startBackoff, startBackoffMax, attempt))
	}
}

func (r *Runner) newWorker() worker.Worker {
	w := worker.New(r.tc, r.cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     r.concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: r.concurrency,
	})
	acts := &jobrun.Activities{
		Log:          r.log,
		Jobs:         r.jobRepo,
		Registry:     r.registry,
		Notify:       r.notify,
		Retry:        r.retry,
		StaleRunning: r.stale,
	}
	w.RegisterWorkflowWithOptions(jobrun.Workflow, workflow.RegisterOptions{Name: jobrun.WorkflowName})
	w.RegisterActivityWithOptions(acts.Tick, activity.RegisterOptions{Name: jobrun.ActivityTick})
	return w
}
