package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	jobsrepo "github.com/yungbote/recall-backend/internal/data/repos/jobs"
	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/recall-backend/internal/pkg/errors"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

// temporalJobWorkflow must match the workflow name registered by the Temporal
// worker. Kept literal to avoid importing the worker side.
const temporalJobWorkflow = "job_run"

type JobService interface {
	Enqueue(dbc dbctx.Context, ownerUserID uuid.UUID, jobType, entityType, entityID string, payload any) (*types.JobRun, error)
	// EnqueueMessageEnrich queues enrichment for one message. When a runnable
	// job already exists for the message it is returned with created=false.
	EnqueueMessageEnrich(dbc dbctx.Context, payload types.MessageEnrichPayload) (job *types.JobRun, created bool, err error)
	Dispatch(dbc dbctx.Context, jobID uuid.UUID) error
	// RedispatchQueued starts workflows for runs still queued after olderThan,
	// covering dispatches that failed at enqueue time.
	RedispatchQueued(dbc dbctx.Context, olderThan time.Duration, limit int) (int, error)
	GetByID(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error)
	// ListEvents returns the job's timeline; empty when no ledger is wired.
	ListEvents(dbc dbctx.Context, jobID uuid.UUID, limit int) ([]*types.JobRunEvent, error)
}

type JobServiceOptions struct {
	MaxAttempts int
	Events      jobsrepo.JobRunEventRepo

	// Temporal is optional; without it the polling worker picks jobs up.
	Temporal          temporalsdkclient.Client
	TemporalTaskQueue string
}

type jobService struct {
	log         *logger.Logger
	repo        jobsrepo.JobRunRepo
	events      jobsrepo.JobRunEventRepo
	notify      JobNotifier
	maxAttempts int

	temporal          temporalsdkclient.Client
	temporalTaskQueue string
}

func NewJobService(baseLog *logger.Logger, repo jobsrepo.JobRunRepo, notify JobNotifier, opts JobServiceOptions) JobService {
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = types.DefaultMaxAttempts
	}
	return &jobService{
		log:               baseLog.With("service", "JobService"),
		repo:              repo,
		events:            opts.Events,
		notify:            notify,
		maxAttempts:       maxAttempts,
		temporal:          opts.Temporal,
		temporalTaskQueue: strings.TrimSpace(opts.TemporalTaskQueue),
	}
}

func (s *jobService) Enqueue(dbc dbctx.Context, ownerUserID uuid.UUID, jobType, entityType, entityID string, payload any) (*types.JobRun, error) {
	if ownerUserID == uuid.Nil {
		return nil, fmt.Errorf("missing owner_user_id: %w", apperr.ErrInvalidArgument)
	}
	if jobType == "" {
		return nil, fmt.Errorf("missing job_type: %w", apperr.ErrInvalidArgument)
	}
	payloadJSON, err := encodePayload(dbc.Context(), payload)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: ownerUserID,
		JobType:     jobType,
		EntityType:  entityType,
		EntityID:    entityID,
		Status:      types.JobStatusQueued,
		Stage:       "queued",
		MaxAttempts: s.maxAttempts,
		Payload:     payloadJSON,
		Result:      datatypes.JSON([]byte(`{}`)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.repo.Create(dbc, []*types.JobRun{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if s.notify != nil {
		s.notify.JobCreated(ownerUserID, job)
	}

	// Inside a caller's transaction the workflow must wait for the commit;
	// callers invoke Dispatch afterwards.
	if s.temporal == nil || isDBTransaction(dbc.Tx) {
		return job, nil
	}
	// A failed dispatch is picked up later by RedispatchQueued.
	_ = s.Dispatch(dbctx.New(dbc.Context()), job.ID)
	return job, nil
}

func (s *jobService) EnqueueMessageEnrich(dbc dbctx.Context, p types.MessageEnrichPayload) (*types.JobRun, bool, error) {
	if p.MsgID <= 0 || p.UserID == uuid.Nil {
		return nil, false, fmt.Errorf("msg_id and user_id are required: %w", apperr.ErrInvalidArgument)
	}
	entityID := strconv.FormatInt(p.MsgID, 10)
	has, err := s.repo.HasRunnableForEntity(dbc, types.EntityTypeMessage, entityID, types.JobTypeMessageEnrich)
	if err != nil {
		return nil, false, err
	}
	if has {
		existing, err := s.repo.GetLatestByEntity(dbc, types.EntityTypeMessage, entityID, types.JobTypeMessageEnrich)
		return existing, false, err
	}
	job, err := s.Enqueue(dbc, p.UserID, types.JobTypeMessageEnrich, types.EntityTypeMessage, entityID, p)
	if err != nil {
		return job, job != nil, err
	}
	return job, true, nil
}

func (s *jobService) Dispatch(dbc dbctx.Context, jobID uuid.UUID) error {
	if s.temporal == nil {
		return nil
	}
	if jobID == uuid.Nil {
		return fmt.Errorf("missing job id: %w", apperr.ErrInvalidArgument)
	}
	ctx := dbc.Context()
	_, err := s.temporal.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:                    jobID.String(),
		TaskQueue:             s.temporalTaskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, temporalJobWorkflow)
	if err == nil {
		return nil
	}
	if _, ok := err.(*serviceerror.WorkflowExecutionAlreadyStarted); ok {
		return nil
	}

	s.log.Warn("temporal dispatch failed; job stays queued", "job_id", jobID, "error", err)
	return fmt.Errorf("start temporal workflow: %w", err)
}

func (s *jobService) RedispatchQueued(dbc dbctx.Context, olderThan time.Duration, limit int) (int, error) {
	if s.temporal == nil {
		return 0, nil
	}
	jobs, err := s.repo.ListQueuedBefore(dbc, time.Now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range jobs {
		if err := s.Dispatch(dbc, job.ID); err != nil {
			continue
		}
		n++
	}
	if n > 0 {
		s.log.Info("redispatched queued jobs", "count", n)
	}
	return n, nil
}

func (s *jobService) GetByID(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error) {
	job, err := s.repo.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, apperr.ErrNotFound)
	}
	return job, nil
}

func (s *jobService) ListEvents(dbc dbctx.Context, jobID uuid.UUID, limit int) ([]*types.JobRunEvent, error) {
	if _, err := s.GetByID(dbc, jobID); err != nil {
		return nil, err
	}
	if s.events == nil {
		return []*types.JobRunEvent{}, nil
	}
	return s.events.ListByJob(dbc, jobID, limit)
}

// encodePayload marshals payload and stamps the active trace id so the run
// can be correlated with the request that queued it.
func encodePayload(ctx context.Context, payload any) (datatypes.JSON, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return datatypes.JSON(raw), nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return datatypes.JSON(raw), nil
	}
	if _, ok := m["trace_id"]; !ok {
		m["trace_id"] = sc.TraceID().String()
	}
	raw, err = json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return datatypes.JSON(raw), nil
}

type txCommitter interface {
	Commit() error
	Rollback() error
}

func isDBTransaction(db *gorm.DB) bool {
	if db == nil || db.Statement == nil || db.Statement.ConnPool == nil {
		return false
	}
	_, ok := db.Statement.ConnPool.(txCommitter)
	return ok
}
