package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/recall-backend/internal/clients/redis"
	jobsrepo "github.com/yungbote/recall-backend/internal/data/repos/jobs"
	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

type JobNotifier interface {
	JobCreated(userID uuid.UUID, job *types.JobRun)
	JobProgress(userID uuid.UUID, job *types.JobRun, stage string, progress int, message string)
	JobRetrying(userID uuid.UUID, job *types.JobRun, stage string, errorMessage string)
	JobFailed(userID uuid.UUID, job *types.JobRun, stage string, errorMessage string)
	JobDone(userID uuid.UUID, job *types.JobRun)
}

type jobNotifier struct {
	log    *logger.Logger
	bus    redis.JobBus
	ledger jobsrepo.JobRunEventRepo
}

// NewJobNotifier logs every job event. When set, bus receives it as a
// publish and ledger as an appended job_run_event row.
func NewJobNotifier(baseLog *logger.Logger, bus redis.JobBus, ledger jobsrepo.JobRunEventRepo) JobNotifier {
	return &jobNotifier{log: baseLog.With("service", "JobNotifier"), bus: bus, ledger: ledger}
}

var eventKinds = map[string]string{
	redis.EventJobCreated:  types.JobEventCreated,
	redis.EventJobProgress: types.JobEventProgress,
	redis.EventJobRetrying: types.JobEventRetrying,
	redis.EventJobFailed:   types.JobEventFailed,
	redis.EventJobDone:     types.JobEventDone,
}

func (n *jobNotifier) JobCreated(userID uuid.UUID, job *types.JobRun) {
	n.emit(redis.JobEvent{Event: redis.EventJobCreated, UserID: userID, Stage: job.Stage}, job)
}

func (n *jobNotifier) JobProgress(userID uuid.UUID, job *types.JobRun, stage string, progress int, message string) {
	n.emit(redis.JobEvent{
		Event:    redis.EventJobProgress,
		UserID:   userID,
		Stage:    stage,
		Progress: progress,
		Message:  message,
	}, job)
}

func (n *jobNotifier) JobRetrying(userID uuid.UUID, job *types.JobRun, stage string, errorMessage string) {
	n.emit(redis.JobEvent{
		Event:    redis.EventJobRetrying,
		UserID:   userID,
		Stage:    stage,
		Error:    errorMessage,
		RunAfter: job.RunAfter,
	}, job)
}

func (n *jobNotifier) JobFailed(userID uuid.UUID, job *types.JobRun, stage string, errorMessage string) {
	n.emit(redis.JobEvent{Event: redis.EventJobFailed, UserID: userID, Stage: stage, Error: errorMessage}, job)
}

func (n *jobNotifier) JobDone(userID uuid.UUID, job *types.JobRun) {
	n.emit(redis.JobEvent{Event: redis.EventJobDone, UserID: userID, Stage: job.Stage, Progress: 100}, job)
}

func (n *jobNotifier) emit(ev redis.JobEvent, job *types.JobRun) {
	if job != nil {
		ev.JobID = job.ID
		ev.JobType = job.JobType
		ev.EntityID = job.EntityID
		ev.Attempts = job.Attempts
	}
	ev.At = time.Now().UTC()

	log := n.log.With("event", ev.Event, "job_id", ev.JobID, "job_type", ev.JobType, "stage", ev.Stage)
	switch ev.Event {
	case redis.EventJobFailed:
		log.Warn("job failed", "error", ev.Error, "attempts", ev.Attempts)
	case redis.EventJobRetrying:
		log.Info("job retry scheduled", "error", ev.Error, "attempts", ev.Attempts, "run_after", ev.RunAfter)
	default:
		log.Debug("job event", "progress", ev.Progress)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if n.ledger != nil && job != nil {
		if err := n.ledger.Append(dbctx.New(ctx), &types.JobRunEvent{
			JobID:       job.ID,
			OwnerUserID: ev.UserID,
			JobType:     job.JobType,
			EntityID:    job.EntityID,
			Kind:        eventKinds[ev.Event],
			Stage:       ev.Stage,
			Progress:    ev.Progress,
			Attempts:    ev.Attempts,
			Message:     ev.Message,
			Error:       ev.Error,
			CreatedAt:   ev.At,
		}); err != nil {
			log.Warn("job event append failed (continuing)", "error", err)
		}
	}
	if n.bus == nil {
		return
	}
	if err := n.bus.Publish(ctx, ev); err != nil {
		log.Warn("job event publish failed (continuing)", "error", err)
	}
}
