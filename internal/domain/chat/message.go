package chat

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

const (
	RoleUser          = "user"
	RoleAssistant     = "assistant"
	RoleSystem        = "system"
	RoleIntrospection = "introspection"
)

// EmbeddingDim is the width of every stored vector.
const EmbeddingDim = 3072

// Message is one conversational turn plus the fields derived by enrichment.
// MetricsReady implies every metric column and Priority is non-null.
type Message struct {
	ID       int64     `gorm:"column:msg_id;primaryKey;autoIncrement" json:"msg_id"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	ThreadID uuid.UUID `gorm:"type:uuid;not null;index:idx_messages_thread_created,priority:1" json:"thread_id"`

	Role       string  `gorm:"column:role;not null" json:"role"`
	Content    *string `gorm:"column:content;type:text" json:"content,omitempty"`
	TokenCount *int    `gorm:"column:token_cnt" json:"token_cnt,omitempty"`

	Embedding    *pgvector.Vector `gorm:"column:emb;type:vector(3072)" json:"-"`
	EmbedReady   bool             `gorm:"column:embed_ready;not null;default:false;index" json:"embed_ready"`
	MetricsReady bool             `gorm:"column:metrics_ready;not null;default:false" json:"metrics_ready"`

	Sentiment   *int     `gorm:"column:sentiment" json:"sentiment,omitempty"`
	Excitement  *float64 `gorm:"column:excitement" json:"excitement,omitempty"`
	Helpfulness *float64 `gorm:"column:helpfulness" json:"helpfulness,omitempty"`
	Novelty     *float64 `gorm:"column:novelty" json:"novelty,omitempty"`
	Centrality  *float64 `gorm:"column:centrality" json:"centrality,omitempty"`
	Priority    *float64 `gorm:"column:priority" json:"priority,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index:idx_messages_thread_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "messages" }

// Vector returns the stored embedding or nil.
func (m *Message) Vector() []float32 {
	if m == nil || m.Embedding == nil {
		return nil
	}
	return m.Embedding.Slice()
}

// Text returns the content or "" when null.
func (m *Message) Text() string {
	if m == nil || m.Content == nil {
		return ""
	}
	return *m.Content
}

// ContextLine renders the message for scoring prompts. Only user messages
// are labelled "User"; every other role speaks as "Assistant".
func (m *Message) ContextLine() string {
	if m.Role == RoleUser {
		return "User: " + m.Text()
	}
	return "Assistant: " + m.Text()
}

// ValidRole reports whether r is one of the stored roles.
func ValidRole(r string) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleIntrospection:
		return true
	}
	return false
}

// MessageMetrics is the first enrichment write. Centrality is 0 until the
// graph stage refines it.
type MessageMetrics struct {
	Sentiment   int     `json:"sentiment"`
	Excitement  float64 `json:"excitement"`
	Helpfulness float64 `json:"helpfulness"`
	Novelty     float64 `json:"novelty"`
	Centrality  float64 `json:"centrality"`
	Priority    float64 `json:"priority"`
}
