package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	jobsrepo "github.com/yungbote/recall-backend/internal/data/repos/jobs"
	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/pkg/ctxutil"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/recall-backend/internal/pkg/errors"
	"github.com/yungbote/recall-backend/internal/pkg/httpx"
	"github.com/yungbote/recall-backend/internal/services"
)

// RetryPolicy controls when a failed attempt becomes runnable again.
type RetryPolicy struct {
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	base := p.BackoffBase
	if base <= 0 {
		base = 2 * time.Second
	}
	return httpx.Backoff(base, p.BackoffMax, attempt)
}

/*
Context is the execution handle for one claimed job_run attempt.
Handlers never write job_run directly; every lifecycle transition goes
through Progress, Fail or Succeed so the status rules live in one place.
*/
type Context struct {
	Ctx    context.Context
	Job    *types.JobRun
	Repo   jobsrepo.JobRunRepo
	Notify services.JobNotifier
	Policy RetryPolicy

	payload map[string]any
	now     func() time.Time
}

func NewContext(ctx context.Context, job *types.JobRun, repo jobsrepo.JobRunRepo, notify services.JobNotifier, policy RetryPolicy) *Context {
	c := &Context{
		Ctx:    ctxutil.Default(ctx),
		Job:    job,
		Repo:   repo,
		Notify: notify,
		Policy: policy,
		now:    time.Now,
	}
	_ = c.decodePayload()
	return c
}

func (c *Context) decodePayload() error {
	c.payload = map[string]any{}
	if c.Job == nil || len(c.Job.Payload) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		return err
	}
	if m != nil {
		c.payload = m
	}
	return nil
}

// Payload never returns nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

// DecodePayload unmarshals the raw job payload into dst. A malformed payload
// is reported as ErrInvalidArgument so Fail treats it as terminal.
func (c *Context) DecodePayload(dst any) error {
	if c.Job == nil || len(c.Job.Payload) == 0 {
		return fmt.Errorf("%w: empty job payload", apperr.ErrInvalidArgument)
	}
	if err := json.Unmarshal(c.Job.Payload, dst); err != nil {
		return fmt.Errorf("%w: decode job payload: %v", apperr.ErrInvalidArgument, err)
	}
	return nil
}

func (c *Context) dbc() dbctx.Context {
	return dbctx.Context{Ctx: c.Ctx}
}

func (c *Context) hasRow() bool {
	return c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil
}

// Progress records a non-terminal stage and refreshes the heartbeat.
func (c *Context) Progress(stage string, pct int, msg string) {
	if c == nil {
		return
	}
	now := c.now()
	if c.hasRow() {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(c.dbc(), c.Job.ID, []string{types.JobStatusSucceeded}, map[string]interface{}{
			"stage":        stage,
			"progress":     pct,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if !ok {
			return
		}
	}
	if c.Job != nil {
		c.Job.Stage = stage
		c.Job.Progress = pct
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}
	if c.Notify != nil && c.Job != nil {
		c.Notify.JobProgress(c.Job.OwnerUserID, c.Job, stage, pct, msg)
	}
}

// Heartbeat keeps a long attempt from looking stale to other workers.
func (c *Context) Heartbeat() error {
	if c == nil || !c.hasRow() {
		return nil
	}
	return c.Repo.Heartbeat(c.dbc(), c.Job.ID)
}

/*
Fail records a failed attempt.
When attempts remain and the error is not an invalid-argument error, the run
stays "failed" with run_after pushed out by the retry policy, which makes it
claimable again later. Otherwise attempts is pinned to max_attempts so no
worker picks it up again.
*/
func (c *Context) Fail(stage string, err error) {
	if c == nil {
		return
	}
	now := c.now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	retry := c.Job != nil && c.Job.Retryable() && !errors.Is(err, apperr.ErrInvalidArgument)

	updates := map[string]interface{}{
		"status":        types.JobStatusFailed,
		"stage":         stage,
		"error":         msg,
		"last_error_at": now,
		"locked_at":     nil,
		"updated_at":    now,
	}
	var runAfter *time.Time
	if retry {
		t := now.Add(c.Policy.delay(c.Job.Attempts))
		runAfter = &t
		updates["run_after"] = t
	} else if c.Job != nil {
		updates["attempts"] = c.Job.MaxAttempts
	}

	if c.hasRow() {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(c.dbc(), c.Job.ID, []string{types.JobStatusSucceeded}, updates)
		if !ok {
			return
		}
	}
	if c.Job != nil {
		c.Job.Status = types.JobStatusFailed
		c.Job.Stage = stage
		c.Job.Error = msg
		c.Job.LastErrorAt = &now
		c.Job.LockedAt = nil
		c.Job.RunAfter = runAfter
		c.Job.UpdatedAt = now
		if !retry {
			c.Job.Attempts = c.Job.MaxAttempts
		}
	}
	if c.Notify == nil || c.Job == nil {
		return
	}
	if retry {
		c.Notify.JobRetrying(c.Job.OwnerUserID, c.Job, stage, msg)
	} else {
		c.Notify.JobFailed(c.Job.OwnerUserID, c.Job, stage, msg)
	}
}

// Succeed marks the run terminal and replaces job_run.result with result,
// dropping any checkpoint saved by earlier attempts.
func (c *Context) Succeed(finalStage string, result any) {
	if c == nil {
		return
	}
	now := c.now()
	var res datatypes.JSON
	if result != nil {
		b, _ := json.Marshal(result)
		res = datatypes.JSON(b)
	}
	if c.hasRow() {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(c.dbc(), c.Job.ID, []string{types.JobStatusSucceeded}, map[string]interface{}{
			"status":       types.JobStatusSucceeded,
			"stage":        finalStage,
			"progress":     100,
			"error":        "",
			"result":       res,
			"run_after":    nil,
			"locked_at":    nil,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if !ok {
			return
		}
	}
	if c.Job != nil {
		c.Job.Status = types.JobStatusSucceeded
		c.Job.Stage = finalStage
		c.Job.Progress = 100
		c.Job.Error = ""
		c.Job.Result = res
		c.Job.RunAfter = nil
		c.Job.LockedAt = nil
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}
	if c.Notify != nil && c.Job != nil {
		c.Notify.JobDone(c.Job.OwnerUserID, c.Job)
	}
}

// LoadCheckpoint decodes the checkpoint left by an earlier attempt into dst.
// It reports false when there is none.
func (c *Context) LoadCheckpoint(dst any) (bool, error) {
	if c == nil || c.Job == nil || len(c.Job.Result) == 0 {
		return false, nil
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(c.Job.Result, &wrapper); err != nil {
		return false, fmt.Errorf("decode job result: %w", err)
	}
	raw, ok := wrapper[types.CheckpointResultKey]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode checkpoint: %w", err)
	}
	return true, nil
}

// SaveCheckpoint stores v under the checkpoint key of job_run.result so the
// next attempt can resume from it.
func (c *Context) SaveCheckpoint(v any) error {
	if c == nil || c.Job == nil {
		return nil
	}
	b, err := json.Marshal(map[string]any{types.CheckpointResultKey: v})
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	res := datatypes.JSON(b)
	if c.hasRow() {
		if _, err := c.Repo.UpdateFieldsUnlessStatus(c.dbc(), c.Job.ID, []string{types.JobStatusSucceeded}, map[string]interface{}{
			"result":     res,
			"updated_at": c.now(),
		}); err != nil {
			return err
		}
	}
	c.Job.Result = res
	return nil
}
