package chat

import "github.com/google/uuid"

// MemoryCandidate is a prior message eligible for retrieval, with its
// distance to the query already computed by the store.
type MemoryCandidate struct {
	MsgID    int64     `gorm:"column:msg_id" json:"msg_id"`
	ThreadID uuid.UUID `gorm:"column:thread_id" json:"thread_id"`
	Role     string    `gorm:"column:role" json:"role"`
	Content  string    `gorm:"column:content" json:"content"`
	Priority float64   `gorm:"column:priority" json:"priority"`
	Distance float64   `gorm:"column:distance" json:"distance"`
	Score    float64   `gorm:"column:score" json:"score"`
}

// MemoryQuery selects candidates for one user outside the current thread.
type MemoryQuery struct {
	UserID            uuid.UUID
	ExcludeThreadID   *uuid.UUID
	Embedding         []float32
	DistanceThreshold float64
	DistanceWeight    float64
	PriorityWeight    float64
	Limit             int
}
