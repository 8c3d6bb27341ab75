package domain

import (
	"github.com/yungbote/recall-backend/internal/domain/chat"
	"github.com/yungbote/recall-backend/internal/domain/jobs"
)

const (
	RoleUser          = chat.RoleUser
	RoleAssistant     = chat.RoleAssistant
	RoleSystem        = chat.RoleSystem
	RoleIntrospection = chat.RoleIntrospection

	JobStatusQueued    = jobs.StatusQueued
	JobStatusRunning   = jobs.StatusRunning
	JobStatusSucceeded = jobs.StatusSucceeded
	JobStatusFailed    = jobs.StatusFailed

	JobEventCreated  = jobs.EventKindCreated
	JobEventProgress = jobs.EventKindProgress
	JobEventRetrying = jobs.EventKindRetrying
	JobEventFailed   = jobs.EventKindFailed
	JobEventDone     = jobs.EventKindDone

	JobTypeMessageEnrich = jobs.JobTypeMessageEnrich
	EntityTypeMessage    = jobs.EntityTypeMessage
	CheckpointResultKey  = jobs.CheckpointResultKey
	DefaultMaxAttempts   = jobs.DefaultMaxAttempts

	DefaultStaleRunningTime = jobs.DefaultStaleRunningTime

	EmbeddingDim = chat.EmbeddingDim
)

type (
	Message         = chat.Message
	MessageMetrics  = chat.MessageMetrics
	KgNode          = chat.KgNode
	KgEdge          = chat.KgEdge
	MsgToNode       = chat.MsgToNode
	NodeMatch       = chat.NodeMatch
	MemoryCandidate = chat.MemoryCandidate
	MemoryQuery     = chat.MemoryQuery

	JobRun               = jobs.JobRun
	JobRunEvent          = jobs.JobRunEvent
	MessageEnrichPayload = jobs.MessageEnrichPayload
)

// AllModels lists every table owned by this service, in migration order.
func AllModels() []any {
	return []any{
		&Message{},
		&KgNode{},
		&KgEdge{},
		&MsgToNode{},
		&JobRun{},
		&JobRunEvent{},
	}
}

func ValidRole(role string) bool { return chat.ValidRole(role) }
