// Package jobstest provides an in-memory JobRunRepo with the same claim
// rules as the Postgres one.
package jobstest

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	jobsrepo "github.com/yungbote/recall-backend/internal/data/repos/jobs"
	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
)

type FakeJobRunRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*types.JobRun

	// Now overrides the clock used for run_after and stale checks.
	Now func() time.Time
}

var _ jobsrepo.JobRunRepo = (*FakeJobRunRepo)(nil)

func NewFakeJobRunRepo() *FakeJobRunRepo {
	return &FakeJobRunRepo{jobs: map[uuid.UUID]*types.JobRun{}, Now: time.Now}
}

func (r *FakeJobRunRepo) Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range jobs {
		if j.ID == uuid.Nil {
			j.ID = uuid.New()
		}
		if j.CreatedAt.IsZero() {
			j.CreatedAt = r.Now()
		}
		cp := *j
		r.jobs[j.ID] = &cp
	}
	return jobs, nil
}

func (r *FakeJobRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (r *FakeJobRunRepo) GetLatestByEntity(dbc dbctx.Context, entityType, entityID, jobType string) (*types.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *types.JobRun
	for _, j := range r.jobs {
		if j.EntityType != entityType || j.EntityID != entityID || j.JobType != jobType {
			continue
		}
		if best == nil || j.CreatedAt.After(best.CreatedAt) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r *FakeJobRunRepo) runnable(j *types.JobRun, now time.Time, staleRunning time.Duration) bool {
	switch j.Status {
	case types.JobStatusQueued:
		return true
	case types.JobStatusFailed:
		return j.Attempts < j.MaxAttempts && (j.RunAfter == nil || !j.RunAfter.After(now))
	case types.JobStatusRunning:
		return j.Attempts < j.MaxAttempts && r.stale(j, now, staleRunning)
	}
	return false
}

func (r *FakeJobRunRepo) stale(j *types.JobRun, now time.Time, staleRunning time.Duration) bool {
	return j.HeartbeatAt != nil && j.HeartbeatAt.Before(now.Add(-staleRunning))
}

func (r *FakeJobRunRepo) claimLocked(j *types.JobRun, now time.Time) *types.JobRun {
	j.Status = types.JobStatusRunning
	j.Attempts++
	j.RunAfter = nil
	j.LockedAt = &now
	j.HeartbeatAt = &now
	j.UpdatedAt = now
	cp := *j
	return &cp
}

func (r *FakeJobRunRepo) ClaimNextRunnable(dbc dbctx.Context, staleRunning time.Duration) (*types.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.Now()
	var candidates []*types.JobRun
	for _, j := range r.jobs {
		if r.runnable(j, now, staleRunning) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, k int) bool { return candidates[i].CreatedAt.Before(candidates[k].CreatedAt) })
	return r.claimLocked(candidates[0], now), nil
}

func (r *FakeJobRunRepo) ClaimByID(dbc dbctx.Context, id uuid.UUID, staleRunning time.Duration) (*types.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	now := r.Now()
	if !ok || !r.runnable(j, now, staleRunning) {
		return nil, nil
	}
	return r.claimLocked(j, now), nil
}

func (r *FakeJobRunRepo) FailExhaustedStale(dbc dbctx.Context, staleRunning time.Duration, limit int) ([]*types.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.Now()
	var hits []*types.JobRun
	for _, j := range r.jobs {
		if j.Status == types.JobStatusRunning && j.Attempts >= j.MaxAttempts && r.stale(j, now, staleRunning) {
			hits = append(hits, j)
		}
	}
	sort.Slice(hits, func(i, k int) bool { return hits[i].CreatedAt.Before(hits[k].CreatedAt) })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]*types.JobRun, 0, len(hits))
	for _, j := range hits {
		j.Status = types.JobStatusFailed
		j.Error = jobsrepo.StaleExhaustedError(j)
		j.LastErrorAt = &now
		j.LockedAt = nil
		j.RunAfter = nil
		j.UpdatedAt = now
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (r *FakeJobRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	_, err := r.UpdateFieldsUnlessStatus(dbc, id, nil, updates)
	return err
}

func (r *FakeJobRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []string, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return false, nil
	}
	for _, s := range disallowed {
		if j.Status == s {
			return false, nil
		}
	}
	for k, v := range updates {
		if err := apply(j, k, v); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (r *FakeJobRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok && j.Status == types.JobStatusRunning {
		now := r.Now()
		j.HeartbeatAt = &now
	}
	return nil
}

func (r *FakeJobRunRepo) HasRunnableForEntity(dbc dbctx.Context, entityType, entityID, jobType string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.EntityType != entityType || j.EntityID != entityID || j.JobType != jobType {
			continue
		}
		switch {
		case j.Status == types.JobStatusQueued, j.Status == types.JobStatusRunning:
			return true, nil
		case j.Status == types.JobStatusFailed && j.Attempts < j.MaxAttempts:
			return true, nil
		}
	}
	return false, nil
}

func (r *FakeJobRunRepo) ListQueuedBefore(dbc dbctx.Context, before time.Time, limit int) ([]*types.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.JobRun
	for _, j := range r.jobs {
		if j.Status == types.JobStatusQueued && j.CreatedAt.Before(before) {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get returns a copy of the stored job.
func (r *FakeJobRunRepo) Get(id uuid.UUID) *types.JobRun {
	j, _ := r.GetByID(dbctx.Context{}, id)
	return j
}

func (r *FakeJobRunRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func apply(j *types.JobRun, column string, v interface{}) error {
	switch column {
	case "status":
		j.Status = v.(string)
	case "stage":
		j.Stage = v.(string)
	case "progress":
		j.Progress = v.(int)
	case "error":
		j.Error = v.(string)
	case "attempts":
		j.Attempts = v.(int)
	case "run_after":
		j.RunAfter = timePtr(v)
	case "locked_at":
		j.LockedAt = timePtr(v)
	case "heartbeat_at":
		j.HeartbeatAt = timePtr(v)
	case "last_error_at":
		j.LastErrorAt = timePtr(v)
	case "updated_at":
		if t := timePtr(v); t != nil {
			j.UpdatedAt = *t
		}
	case "result":
		j.Result = jsonValue(v)
	case "payload":
		j.Payload = jsonValue(v)
	default:
		return fmt.Errorf("jobstest: unsupported column %q", column)
	}
	return nil
}

func timePtr(v interface{}) *time.Time {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return &t
	case *time.Time:
		return t
	}
	return nil
}

func jsonValue(v interface{}) datatypes.JSON {
	switch x := v.(type) {
	case nil:
		return nil
	case datatypes.JSON:
		return x
	case []byte:
		return datatypes.JSON(x)
	case json.RawMessage:
		return datatypes.JSON(x)
	}
	raw, _ := json.Marshal(v)
	return datatypes.JSON(raw)
}
