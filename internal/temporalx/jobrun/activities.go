package jobrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	jobsrepo "github.com/yungbote/recall-backend/internal/data/repos/jobs"
	types "github.com/yungbote/recall-backend/internal/domain"
	jobrt "github.com/yungbote/recall-backend/internal/jobs/runtime"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
	"github.com/yungbote/recall-backend/internal/services"
)

type Activities struct {
	Log          *logger.Logger
	Jobs         jobsrepo.JobRunRepo
	Registry     *jobrt.Registry
	Notify       services.JobNotifier
	Retry        jobrt.RetryPolicy
	StaleRunning time.Duration
}

// Tick runs at most one attempt of the job named by jobID and reports the
// resulting state. A job that is backing off or already claimed elsewhere is
// reported as-is without running.
func (a *Activities) Tick(ctx context.Context, jobID string) (TickResult, error) {
	res := TickResult{JobID: strings.TrimSpace(jobID)}
	if a == nil || a.Jobs == nil || a.Registry == nil {
		return res, fmt.Errorf("jobrun: activity not configured")
	}
	id, err := uuid.Parse(res.JobID)
	if err != nil || id == uuid.Nil {
		return res, temporal.NewNonRetryableApplicationError("jobrun: invalid job_id", "invalid_job_id", err)
	}
	dbc := dbctx.Context{Ctx: ctx}

	job, err := a.Jobs.ClaimByID(dbc, id, a.staleRunning())
	if err != nil {
		return res, err
	}
	if job == nil {
		current, err := a.Jobs.GetByID(dbc, id)
		if err != nil {
			return res, err
		}
		if current == nil {
			return res, temporal.NewNonRetryableApplicationError("jobrun: job not found", "job_not_found", nil)
		}
		return fill(res, current), nil
	}

	stopHB := a.startHeartbeat(ctx, id)
	defer stopHB()

	log := a.Log.With("job_id", id, "job_type", job.JobType, "attempt", job.Attempts, "transport", "temporal")
	jc := jobrt.NewContext(ctx, job, a.Jobs, a.Notify, a.Retry)
	jobrt.Execute(log, a.Registry, jc)
	return fill(res, jc.Job), nil
}

func (a *Activities) staleRunning() time.Duration {
	if a.StaleRunning > 0 {
		return a.StaleRunning
	}
	return types.DefaultStaleRunningTime
}

func fill(res TickResult, job *types.JobRun) TickResult {
	res.Status = job.Status
	res.Stage = job.Stage
	res.Attempts = job.Attempts
	res.Retryable = job.Retryable()
	if job.Status == types.JobStatusFailed && job.RunAfter != nil {
		t := *job.RunAfter
		res.WaitUntil = &t
	}
	return res
}

func (a *Activities) startHeartbeat(ctx context.Context, jobID uuid.UUID) func() {
	done := make(chan struct{})
	go func() {
		temporalHB := time.NewTicker(10 * time.Second)
		defer temporalHB.Stop()
		dbHB := time.NewTicker(30 * time.Second)
		defer dbHB.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-temporalHB.C:
				activity.RecordHeartbeat(ctx)
			case <-dbHB.C:
				if err := a.Jobs.Heartbeat(dbctx.Context{Ctx: ctx}, jobID); err != nil {
					a.Log.Warn("job heartbeat failed (continuing)", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	return func() { close(done) }
}
