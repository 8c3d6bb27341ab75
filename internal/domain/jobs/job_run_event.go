package jobs

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventKindCreated  = "created"
	EventKindProgress = "progress"
	EventKindRetrying = "retrying"
	EventKindFailed   = "failed"
	EventKindDone     = "done"
)

// JobRunEvent is an append-only timeline entry for one job run.
type JobRunEvent struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID       uuid.UUID `gorm:"type:uuid;not null;index:idx_job_run_event_job,priority:1" json:"job_id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	JobType     string    `gorm:"column:job_type;not null" json:"job_type"`
	EntityID    string    `gorm:"column:entity_id" json:"entity_id,omitempty"`
	Kind        string    `gorm:"column:kind;not null" json:"kind"`
	Stage       string    `gorm:"column:stage;not null" json:"stage"`
	Progress    int       `gorm:"column:progress;not null;default:0" json:"progress"`
	Attempts    int       `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Message     string    `gorm:"column:message;type:text" json:"message,omitempty"`
	Error       string    `gorm:"column:error;type:text" json:"error,omitempty"`
	CreatedAt   time.Time `gorm:"not null;default:now();index:idx_job_run_event_job,priority:2" json:"created_at"`
}

func (JobRunEvent) TableName() string { return "job_run_event" }
