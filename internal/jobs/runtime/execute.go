package runtime

import (
	"fmt"
	"time"

	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/observability"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string { return "no handler registered for job_type=" + e.JobType }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }

// Execute runs the registered handler for jc.Job and guarantees the run leaves
// the running state. A handler that returns without calling Fail or Succeed
// is settled here.
func Execute(log *logger.Logger, registry *Registry, jc *Context) {
	job := jc.Job
	start := time.Now()
	defer func() {
		observability.Current().ObserveJob(job.JobType, job.Status, time.Since(start))
	}()

	h, ok := registry.Get(job.JobType)
	if !ok {
		log.Warn("No handler registered for job_type", "job_type", job.JobType, "job_id", job.ID)
		jc.Fail("dispatch", &missingHandlerError{JobType: job.JobType})
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Job handler panic", "job_id", job.ID, "job_type", job.JobType, "panic", r)
			jc.Fail("panic", &panicError{Val: r})
		}
	}()

	runErr := h.Run(jc)
	if job.Status != types.JobStatusRunning {
		return
	}
	if runErr != nil {
		jc.Fail("run", runErr)
		return
	}
	jc.Succeed("done", nil)
}
