package chat

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// KgNode is a canonical entity in a user's knowledge graph. (user_id, label)
// is unique and Degree only grows.
type KgNode struct {
	ID        int64            `gorm:"column:node_id;primaryKey;autoIncrement" json:"node_id"`
	UserID    uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_kg_nodes_user_label,priority:1" json:"user_id"`
	Label     string           `gorm:"column:label;type:text;not null;uniqueIndex:idx_kg_nodes_user_label,priority:2" json:"label"`
	Embedding *pgvector.Vector `gorm:"column:emb;type:vector(3072)" json:"-"`
	Degree    int              `gorm:"column:degree;not null;default:0" json:"degree"`
	CreatedAt time.Time        `gorm:"not null;default:now()" json:"created_at"`
}

func (KgNode) TableName() string { return "kg_nodes" }

// KgEdge is unique per (user, subject, relation, object); Weight counts
// repeated observations.
type KgEdge struct {
	ID        int64     `gorm:"column:edge_id;primaryKey;autoIncrement" json:"edge_id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_kg_edges_tuple,priority:1" json:"user_id"`
	SubjectID int64     `gorm:"column:subject_id;not null;uniqueIndex:idx_kg_edges_tuple,priority:2" json:"subject_id"`
	Relation  string    `gorm:"column:relation;type:text;not null;uniqueIndex:idx_kg_edges_tuple,priority:3" json:"relation"`
	ObjectID  int64     `gorm:"column:object_id;not null;uniqueIndex:idx_kg_edges_tuple,priority:4" json:"object_id"`
	Weight    int       `gorm:"column:weight;not null;default:1" json:"weight"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (KgEdge) TableName() string { return "kg_edges" }

// MsgToNode records which canonical entities a message touched. Append-only.
type MsgToNode struct {
	MsgID     int64     `gorm:"column:msg_id;primaryKey" json:"msg_id"`
	NodeID    int64     `gorm:"column:node_id;primaryKey;index" json:"node_id"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (MsgToNode) TableName() string { return "msg_to_node" }

// NodeMatch is the result of a nearest-node probe.
type NodeMatch struct {
	NodeID   int64   `gorm:"column:node_id" json:"node_id"`
	Label    string  `gorm:"column:label" json:"label"`
	Distance float64 `gorm:"column:distance" json:"distance"`
}
