package chat

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

// KgRepo is the per-user Knowledge Graph Store. Unique indexes on
// (user_id, label) and (user_id, subject_id, relation, object_id) are the only
// concurrency control; degree and weight changes are atomic increments.
type KgRepo interface {
	FindNodeByLabel(dbc dbctx.Context, userID uuid.UUID, label string) (*types.KgNode, error)
	// NearestNode returns nil when the user has no embedded nodes.
	NearestNode(dbc dbctx.Context, userID uuid.UUID, emb []float32) (*types.NodeMatch, error)
	// InsertNodeIfAbsent sets node.ID and reports true only when a row was inserted.
	InsertNodeIfAbsent(dbc dbctx.Context, node *types.KgNode) (bool, error)
	IncrementDegree(dbc dbctx.Context, nodeID int64, by int) error
	UpsertEdgeOrBumpWeight(dbc dbctx.Context, edge *types.KgEdge) error
	LinkMessageToNode(dbc dbctx.Context, msgID, nodeID int64) error
	NodesByIDs(dbc dbctx.Context, ids []int64) ([]*types.KgNode, error)
	EdgesTouching(dbc dbctx.Context, userID uuid.UUID, nodeIDs []int64) ([]*types.KgEdge, error)
}

type kgRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewKgRepo(db *gorm.DB, baseLog *logger.Logger) KgRepo {
	return &kgRepo{db: db, log: baseLog.With("repo", "KgRepo")}
}

func (r *kgRepo) FindNodeByLabel(dbc dbctx.Context, userID uuid.UUID, label string) (*types.KgNode, error) {
	var n types.KgNode
	err := dbc.DB(r.db).
		Omit("emb").
		Where("user_id = ? AND label = ?", userID, label).
		Limit(1).
		Find(&n).Error
	if err != nil {
		return nil, err
	}
	if n.ID == 0 {
		return nil, nil
	}
	return &n, nil
}

func (r *kgRepo) NearestNode(dbc dbctx.Context, userID uuid.UUID, emb []float32) (*types.NodeMatch, error) {
	if len(emb) == 0 {
		return nil, nil
	}
	vec := pgvector.NewVector(emb)
	var rows []types.NodeMatch
	err := dbc.DB(r.db).Raw(`
		SELECT node_id, label, emb <=> ? AS distance
		FROM kg_nodes
		WHERE user_id = ? AND emb IS NOT NULL
		ORDER BY emb <=> ?
		LIMIT 1`, vec, userID, vec).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *kgRepo) InsertNodeIfAbsent(dbc dbctx.Context, node *types.KgNode) (bool, error) {
	if node == nil || node.UserID == uuid.Nil || node.Label == "" {
		return false, fmt.Errorf("missing node user_id/label")
	}
	res := dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "label"}},
			DoNothing: true,
		}).
		Create(node)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *kgRepo) IncrementDegree(dbc dbctx.Context, nodeID int64, by int) error {
	if by == 0 {
		return nil
	}
	return dbc.DB(r.db).Model(&types.KgNode{}).
		Where("node_id = ?", nodeID).
		UpdateColumn("degree", gorm.Expr("degree + ?", by)).Error
}

func (r *kgRepo) UpsertEdgeOrBumpWeight(dbc dbctx.Context, edge *types.KgEdge) error {
	if edge == nil || edge.UserID == uuid.Nil || edge.Relation == "" {
		return errors.New("missing edge user_id/relation")
	}
	if edge.Weight < 1 {
		edge.Weight = 1
	}
	return dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "subject_id"}, {Name: "relation"}, {Name: "object_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"weight": gorm.Expr("kg_edges.weight + 1"),
			}),
		}).
		Create(edge).Error
}

func (r *kgRepo) LinkMessageToNode(dbc dbctx.Context, msgID, nodeID int64) error {
	return dbc.DB(r.db).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&types.MsgToNode{MsgID: msgID, NodeID: nodeID}).Error
}

func (r *kgRepo) NodesByIDs(dbc dbctx.Context, ids []int64) ([]*types.KgNode, error) {
	var out []*types.KgNode
	if len(ids) == 0 {
		return out, nil
	}
	err := dbc.DB(r.db).Omit("emb").Where("node_id IN ?", ids).Find(&out).Error
	return out, err
}

func (r *kgRepo) EdgesTouching(dbc dbctx.Context, userID uuid.UUID, nodeIDs []int64) ([]*types.KgEdge, error) {
	var out []*types.KgEdge
	if len(nodeIDs) == 0 {
		return out, nil
	}
	err := dbc.DB(r.db).
		Where("user_id = ? AND (subject_id IN ? OR object_id IN ?)", userID, nodeIDs, nodeIDs).
		Order("edge_id ASC").
		Find(&out).Error
	return out, err
}
