package jobrun

import "time"

const (
	WorkflowName = "job_run"
	ActivityTick = "job_run_tick"
)

// TickResult is the job_run state after one activity tick. WaitUntil is set
// while a failed run is backing off before its next attempt.
type TickResult struct {
	JobID     string     `json:"job_id"`
	Status    string     `json:"status"`
	Stage     string     `json:"stage,omitempty"`
	Attempts  int        `json:"attempts"`
	Retryable bool       `json:"retryable"`
	WaitUntil *time.Time `json:"wait_until,omitempty"`
}
