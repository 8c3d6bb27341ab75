package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

type JobRunRepo interface {
	Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobRun, error)
	GetLatestByEntity(dbc dbctx.Context, entityType, entityID, jobType string) (*types.JobRun, error)
	ClaimNextRunnable(dbc dbctx.Context, staleRunning time.Duration) (*types.JobRun, error)
	ClaimByID(dbc dbctx.Context, id uuid.UUID, staleRunning time.Duration) (*types.JobRun, error)
	FailExhaustedStale(dbc dbctx.Context, staleRunning time.Duration, limit int) ([]*types.JobRun, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	HasRunnableForEntity(dbc dbctx.Context, entityType, entityID, jobType string) (bool, error)
	ListQueuedBefore(dbc dbctx.Context, before time.Time, limit int) ([]*types.JobRun, error)
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{
		db:  db,
		log: baseLog.With("repo", "JobRunRepo"),
	}
}

func (r *jobRunRepo) Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error) {
	if len(jobs) == 0 {
		return []*types.JobRun{}, nil
	}
	if err := dbc.DB(r.db).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobRun, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.JobRun
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&job).Error; err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRunRepo) GetLatestByEntity(dbc dbctx.Context, entityType, entityID, jobType string) (*types.JobRun, error) {
	if entityID == "" || entityType == "" || jobType == "" {
		return nil, nil
	}
	var job types.JobRun
	err := dbc.DB(r.db).
		Where("entity_type = ? AND entity_id = ? AND job_type = ?", entityType, entityID, jobType).
		Order("created_at DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

// ClaimNextRunnable locks and marks running the oldest job that is queued,
// failed with attempts left and past its run_after, or running with a stale
// heartbeat and attempts left.
func (r *jobRunRepo) ClaimNextRunnable(dbc dbctx.Context, staleRunning time.Duration) (*types.JobRun, error) {
	return r.claim(dbc, staleRunning, uuid.Nil)
}

// ClaimByID claims one specific job under the same rules. It returns nil when
// the job is not runnable right now.
func (r *jobRunRepo) ClaimByID(dbc dbctx.Context, id uuid.UUID, staleRunning time.Duration) (*types.JobRun, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	return r.claim(dbc, staleRunning, id)
}

func (r *jobRunRepo) claim(dbc dbctx.Context, staleRunning time.Duration, id uuid.UUID) (*types.JobRun, error) {
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.JobRun
	err := dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		var job types.JobRun
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if id != uuid.Nil {
			q = q.Where("id = ?", id)
		}
		qErr := q.Where(`
        (
          status = ?
          OR (
            status = ?
            AND attempts < max_attempts
            AND (run_after IS NULL OR run_after <= ?)
          )
          OR (
            status = ?
            AND attempts < max_attempts
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, types.JobStatusQueued, types.JobStatusFailed, now, types.JobStatusRunning, staleCutoff).
			Order("created_at ASC").
			First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.JobRun{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       types.JobStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"run_after":    nil,
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = types.JobStatusRunning
		job.Attempts++
		job.RunAfter = nil
		job.LockedAt = &now
		job.HeartbeatAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// FailExhaustedStale marks failed every running job whose heartbeat went
// stale after its last allowed attempt. Those runs are never claimed again,
// so without this they would stay running forever.
func (r *jobRunRepo) FailExhaustedStale(dbc dbctx.Context, staleRunning time.Duration, limit int) ([]*types.JobRun, error) {
	if limit <= 0 {
		limit = 100
	}
	now := time.Now()
	var failed []*types.JobRun
	err := dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		var rows []*types.JobRun
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND attempts >= max_attempts AND heartbeat_at IS NOT NULL AND heartbeat_at < ?",
				types.JobStatusRunning, now.Add(-staleRunning)).
			Order("created_at ASC").
			Limit(limit).
			Find(&rows).Error
		if qErr != nil {
			return qErr
		}
		for _, job := range rows {
			msg := StaleExhaustedError(job)
			uErr := txx.Model(&types.JobRun{}).
				Where("id = ?", job.ID).
				Updates(map[string]interface{}{
					"status":        types.JobStatusFailed,
					"error":         msg,
					"last_error_at": now,
					"locked_at":     nil,
					"run_after":     nil,
					"updated_at":    now,
				}).Error
			if uErr != nil {
				return uErr
			}
			job.Status = types.JobStatusFailed
			job.Error = msg
			job.LastErrorAt = &now
			job.LockedAt = nil
			job.RunAfter = nil
			job.UpdatedAt = now
		}
		failed = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(failed) > 0 {
		r.log.Warn("Failed stale runs with no attempts left", "count", len(failed))
	}
	return failed, nil
}

// StaleExhaustedError is the error recorded on a run failed by FailExhaustedStale.
func StaleExhaustedError(job *types.JobRun) string {
	return fmt.Sprintf("heartbeat stale after attempt %d of %d", job.Attempts, job.MaxAttempts)
}

func (r *jobRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return dbc.DB(r.db).
		Model(&types.JobRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *jobRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := dbc.DB(r.db).Model(&types.JobRun{}).Where("id = ?", id)
	switch len(disallowedStatuses) {
	case 0:
	case 1:
		q = q.Where("status <> ?", disallowedStatuses[0])
	default:
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return dbc.DB(r.db).
		Model(&types.JobRun{}).
		Where("id = ? AND status = ?", id, types.JobStatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

// HasRunnableForEntity also counts failed runs that still have attempts left.
func (r *jobRunRepo) HasRunnableForEntity(dbc dbctx.Context, entityType, entityID, jobType string) (bool, error) {
	if entityID == "" || entityType == "" || jobType == "" {
		return false, nil
	}
	var count int64
	err := dbc.DB(r.db).
		Model(&types.JobRun{}).
		Where("entity_type = ? AND entity_id = ? AND job_type = ?", entityType, entityID, jobType).
		Where("status IN ? OR (status = ? AND attempts < max_attempts)",
			[]string{types.JobStatusQueued, types.JobStatusRunning}, types.JobStatusFailed).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListQueuedBefore returns queued runs created before the cutoff, oldest first.
func (r *jobRunRepo) ListQueuedBefore(dbc dbctx.Context, before time.Time, limit int) ([]*types.JobRun, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*types.JobRun
	err := dbc.DB(r.db).
		Where("status = ? AND created_at < ?", types.JobStatusQueued, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
