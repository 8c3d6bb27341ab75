package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// JobRun is one durable unit of queued work. A failed run with
// Attempts < MaxAttempts becomes runnable again once RunAfter passes.
type JobRun struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	JobType     string         `gorm:"column:job_type;not null;index" json:"job_type"`
	EntityType  string         `gorm:"column:entity_type;index:idx_job_run_entity,priority:1" json:"entity_type,omitempty"`
	EntityID    string         `gorm:"column:entity_id;index:idx_job_run_entity,priority:2" json:"entity_id,omitempty"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	Stage       string         `gorm:"column:stage;not null" json:"stage"`
	Progress    int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttempts int            `gorm:"column:max_attempts;not null;default:3" json:"max_attempts"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	RunAfter    *time.Time     `gorm:"column:run_after;index" json:"run_after,omitempty"`
	LockedAt    *time.Time     `gorm:"column:locked_at" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result      datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (JobRun) TableName() string { return "job_run" }

// Retryable reports whether another attempt is allowed after a failure.
func (j *JobRun) Retryable() bool {
	return j != nil && j.Attempts < j.MaxAttempts
}

const (
	JobTypeMessageEnrich    = "message_enrich"
	EntityTypeMessage       = "message"
	CheckpointResultKey     = "checkpoint"
	DefaultMaxAttempts      = 3
	DefaultStaleRunningTime = 30 * time.Minute
)

// MessageEnrichPayload is the job input for JobTypeMessageEnrich. Content is
// optional; the stored message text is used when empty.
type MessageEnrichPayload struct {
	MsgID    int64     `json:"msg_id"`
	UserID   uuid.UUID `json:"user_id"`
	ThreadID uuid.UUID `json:"thread_id"`
	Content  string    `json:"content,omitempty"`
}
