package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	types "github.com/yungbote/recall-backend/internal/domain"
)

const (
	defaultPollInterval  = 2 * time.Second
	maxBackoffWait       = 15 * time.Minute
	continueTickLimit    = 2000
	continueHistoryLimit = 15000
)

// Workflow drives one job_run row to a terminal state. The workflow ID is the
// job id. Job attempts and their backoff live in job_run; the activity retry
// policy only covers infrastructure errors from Tick itself.
func Workflow(ctx workflow.Context) error {
	jobID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if jobID == "" {
		return fmt.Errorf("jobrun: missing job_id")
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 5,
		},
	})

	for tick := 1; ; tick++ {
		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, jobID).Get(ctx, &out); err != nil {
			return err
		}
		switch {
		case out.Status == types.JobStatusSucceeded:
			return nil
		case out.Status == types.JobStatusFailed && !out.Retryable:
			return fmt.Errorf("job failed after %d attempts (stage=%s)", out.Attempts, out.Stage)
		}
		if d := nextWait(ctx, out.WaitUntil, defaultPollInterval); d > 0 {
			if err := workflow.Sleep(ctx, d); err != nil {
				return err
			}
		}
		if shouldContinueAsNew(ctx, tick) {
			return workflow.NewContinueAsNewError(ctx, Workflow)
		}
	}
}

func nextWait(ctx workflow.Context, waitUntil *time.Time, def time.Duration) time.Duration {
	if waitUntil == nil || waitUntil.IsZero() {
		return def
	}
	d := waitUntil.Sub(workflow.Now(ctx))
	if d <= 0 {
		// Due already; one short pause keeps a clock skew from spinning.
		return time.Second
	}
	if d > maxBackoffWait {
		return maxBackoffWait
	}
	return d
}

func shouldContinueAsNew(ctx workflow.Context, ticks int) bool {
	if ticks >= continueTickLimit {
		return true
	}
	info := workflow.GetInfo(ctx)
	return info != nil && info.GetCurrentHistoryLength() >= continueHistoryLimit
}
