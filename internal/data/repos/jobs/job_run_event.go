package jobs

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

const defaultEventLimit = 200

type JobRunEventRepo interface {
	Append(dbc dbctx.Context, ev *types.JobRunEvent) error
	// ListByJob returns a job's events oldest first.
	ListByJob(dbc dbctx.Context, jobID uuid.UUID, limit int) ([]*types.JobRunEvent, error)
}

type jobRunEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunEventRepo(db *gorm.DB, baseLog *logger.Logger) JobRunEventRepo {
	return &jobRunEventRepo{
		db:  db,
		log: baseLog.With("repo", "JobRunEventRepo"),
	}
}

func (r *jobRunEventRepo) Append(dbc dbctx.Context, ev *types.JobRunEvent) error {
	if ev == nil {
		return nil
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	return dbc.DB(r.db).Create(ev).Error
}

func (r *jobRunEventRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID, limit int) ([]*types.JobRunEvent, error) {
	out := []*types.JobRunEvent{}
	if jobID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 {
		limit = defaultEventLimit
	}
	err := dbc.DB(r.db).
		Where("job_id = ?", jobID).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
