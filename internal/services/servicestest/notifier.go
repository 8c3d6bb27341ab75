// Package servicestest holds in-memory doubles for service interfaces.
package servicestest

import (
	"sync"

	"github.com/google/uuid"

	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/services"
)

// NotifiedEvent is one captured notifier call.
type NotifiedEvent struct {
	Kind   string
	UserID uuid.UUID
	JobID  uuid.UUID
	Stage  string
	Error  string
}

// RecordingNotifier captures job events in call order.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []NotifiedEvent
}

var _ services.JobNotifier = (*RecordingNotifier)(nil)

func (n *RecordingNotifier) record(kind string, userID uuid.UUID, job *types.JobRun, stage, errMsg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ev := NotifiedEvent{Kind: kind, UserID: userID, Stage: stage, Error: errMsg}
	if job != nil {
		ev.JobID = job.ID
	}
	n.events = append(n.events, ev)
}

func (n *RecordingNotifier) JobCreated(userID uuid.UUID, job *types.JobRun) {
	n.record("created", userID, job, "", "")
}

func (n *RecordingNotifier) JobProgress(userID uuid.UUID, job *types.JobRun, stage string, progress int, message string) {
	n.record("progress", userID, job, stage, "")
}

func (n *RecordingNotifier) JobRetrying(userID uuid.UUID, job *types.JobRun, stage string, errorMessage string) {
	n.record("retrying", userID, job, stage, errorMessage)
}

func (n *RecordingNotifier) JobFailed(userID uuid.UUID, job *types.JobRun, stage string, errorMessage string) {
	n.record("failed", userID, job, stage, errorMessage)
}

func (n *RecordingNotifier) JobDone(userID uuid.UUID, job *types.JobRun) {
	n.record("done", userID, job, "", "")
}

func (n *RecordingNotifier) Events() []NotifiedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]NotifiedEvent(nil), n.events...)
}

// Kinds returns just the event kinds, in order.
func (n *RecordingNotifier) Kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Kind)
	}
	return out
}
