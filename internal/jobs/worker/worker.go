package worker

import (
	"context"
	"sync"
	"time"

	jobsrepo "github.com/yungbote/recall-backend/internal/data/repos/jobs"
	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/jobs/runtime"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
	"github.com/yungbote/recall-backend/internal/services"
)

type Options struct {
	Concurrency       int
	PollInterval      time.Duration
	StaleRunning      time.Duration
	HeartbeatInterval time.Duration
	Retry             runtime.RetryPolicy
}

func (o Options) withDefaults() Options {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.StaleRunning <= 0 {
		o.StaleRunning = types.DefaultStaleRunningTime
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	return o
}

// Worker polls job_run and executes claimed runs through the registry.
type Worker struct {
	log      *logger.Logger
	repo     jobsrepo.JobRunRepo
	registry *runtime.Registry
	notify   services.JobNotifier
	opts     Options
}

func NewWorker(baseLog *logger.Logger, repo jobsrepo.JobRunRepo, registry *runtime.Registry, notify services.JobNotifier, opts Options) *Worker {
	return &Worker{
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
		notify:   notify,
		opts:     opts.withDefaults(),
	}
}

// Start launches the pool and returns immediately. The returned WaitGroup is
// done once every loop has observed ctx cancellation.
func (w *Worker) Start(ctx context.Context) *sync.WaitGroup {
	w.log.Info("Starting job worker pool", "concurrency", w.opts.Concurrency, "job_types", w.registry.Types())
	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.runLoop(ctx, workerID)
		}(i + 1)
	}
	return &wg
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			if workerID == 1 {
				w.sweep(ctx)
			}
			// Drain everything runnable before waiting for the next tick.
			for ctx.Err() == nil {
				ran, err := w.RunOnce(ctx)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
					break
				}
				if !ran {
					break
				}
			}
		}
	}
}

// RunOnce claims and executes at most one job. It reports whether a job ran.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, w.opts.StaleRunning)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	jc := runtime.NewContext(ctx, job, w.repo, w.notify, w.opts.Retry)
	log := w.log.With("job_id", job.ID, "job_type", job.JobType, "attempt", job.Attempts)
	log.Debug("Claimed job")

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeat(hbCtx, jc)

	runtime.Execute(log, w.registry, jc)
	log.Debug("Job attempt finished", "status", job.Status, "stage", job.Stage)
	return true, nil
}

func (w *Worker) sweep(ctx context.Context) {
	n, err := runtime.SweepStaleExhausted(dbctx.Context{Ctx: ctx}, w.repo, w.notify, w.opts.StaleRunning)
	if err != nil {
		w.log.Warn("stale run sweep failed (continuing)", "error", err)
		return
	}
	if n > 0 {
		w.log.Info("Failed stale runs with no attempts left", "count", n)
	}
}

func (w *Worker) heartbeat(ctx context.Context, jc *runtime.Context) {
	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := jc.Heartbeat(); err != nil {
				w.log.Warn("job heartbeat failed (continuing)", "job_id", jc.Job.ID, "error", err)
			}
		}
	}
}
