package chat

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

// MessageRepo is the Message Store consumed by enrichment and retrieval.
type MessageRepo interface {
	Create(dbc dbctx.Context, m *types.Message) error
	GetByID(dbc dbctx.Context, id int64) (*types.Message, error)
	UpdateEmbedding(dbc dbctx.Context, id int64, emb []float32) error
	UpdateMetrics(dbc dbctx.Context, id int64, m types.MessageMetrics) error
	UpdateCentrality(dbc dbctx.Context, id int64, centrality, priority float64) error
	ListByThreadOrdered(dbc dbctx.Context, threadID uuid.UUID) ([]*types.Message, error)
	// NearestNeighborSimilarity returns the max cosine similarity within the
	// user's nearest `limit` embedded messages. found is false when the pool is empty.
	NearestNeighborSimilarity(dbc dbctx.Context, emb []float32, userID uuid.UUID, excludeID int64, limit int) (maxSim float64, found bool, err error)
	MemoryCandidates(dbc dbctx.Context, q types.MemoryQuery) ([]types.MemoryCandidate, error)
	ListPendingEmbeddings(dbc dbctx.Context, limit int) ([]*types.Message, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: baseLog.With("repo", "MessageRepo")}
}

func (r *messageRepo) Create(dbc dbctx.Context, m *types.Message) error {
	if m == nil {
		return fmt.Errorf("nil message")
	}
	if !types.ValidRole(m.Role) {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	return dbc.DB(r.db).Create(m).Error
}

func (r *messageRepo) GetByID(dbc dbctx.Context, id int64) (*types.Message, error) {
	var m types.Message
	if err := dbc.DB(r.db).Where("msg_id = ?", id).Limit(1).Find(&m).Error; err != nil {
		return nil, err
	}
	if m.ID == 0 {
		return nil, nil
	}
	return &m, nil
}

func (r *messageRepo) UpdateEmbedding(dbc dbctx.Context, id int64, emb []float32) error {
	if len(emb) == 0 {
		return fmt.Errorf("empty embedding for msg %d", id)
	}
	res := dbc.DB(r.db).Model(&types.Message{}).
		Where("msg_id = ?", id).
		Updates(map[string]interface{}{
			"emb":         pgvector.NewVector(emb),
			"embed_ready": true,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update embedding: msg %d: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

func (r *messageRepo) UpdateMetrics(dbc dbctx.Context, id int64, m types.MessageMetrics) error {
	res := dbc.DB(r.db).Model(&types.Message{}).
		Where("msg_id = ?", id).
		Updates(map[string]interface{}{
			"sentiment":     m.Sentiment,
			"excitement":    m.Excitement,
			"helpfulness":   m.Helpfulness,
			"novelty":       m.Novelty,
			"centrality":    m.Centrality,
			"priority":      m.Priority,
			"metrics_ready": true,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update metrics: msg %d: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

func (r *messageRepo) UpdateCentrality(dbc dbctx.Context, id int64, centrality, priority float64) error {
	return dbc.DB(r.db).Model(&types.Message{}).
		Where("msg_id = ?", id).
		Updates(map[string]interface{}{
			"centrality": centrality,
			"priority":   priority,
		}).Error
}

func (r *messageRepo) ListByThreadOrdered(dbc dbctx.Context, threadID uuid.UUID) ([]*types.Message, error) {
	var out []*types.Message
	err := dbc.DB(r.db).
		Omit("emb").
		Where("thread_id = ?", threadID).
		Order("created_at ASC, msg_id ASC").
		Find(&out).Error
	return out, err
}

func (r *messageRepo) NearestNeighborSimilarity(dbc dbctx.Context, emb []float32, userID uuid.UUID, excludeID int64, limit int) (float64, bool, error) {
	if len(emb) == 0 {
		return 0, false, nil
	}
	vec := pgvector.NewVector(emb)
	var row struct {
		MaxSim *float64 `gorm:"column:max_sim"`
	}
	err := dbc.DB(r.db).Raw(`
		SELECT MAX(pool.sim) AS max_sim FROM (
			SELECT 1 - (emb <=> ?) AS sim
			FROM messages
			WHERE user_id = ? AND msg_id <> ? AND emb IS NOT NULL
			ORDER BY emb <=> ?
			LIMIT ?
		) pool`, vec, userID, excludeID, vec, limit).
		Scan(&row).Error
	if err != nil {
		return 0, false, err
	}
	if row.MaxSim == nil {
		return 0, false, nil
	}
	return *row.MaxSim, true, nil
}

// MemoryCandidates scores by L2 distance and priority, filters by distance,
// and returns at most q.Limit rows ordered by ascending score.
func (r *messageRepo) MemoryCandidates(dbc dbctx.Context, q types.MemoryQuery) ([]types.MemoryCandidate, error) {
	if len(q.Embedding) == 0 || q.UserID == uuid.Nil {
		return nil, nil
	}
	vec := pgvector.NewVector(q.Embedding)
	args := []interface{}{q.DistanceWeight, q.PriorityWeight, vec, q.UserID}
	excludeFilter := ""
	if q.ExcludeThreadID != nil {
		excludeFilter = "AND thread_id <> ?"
		args = append(args, *q.ExcludeThreadID)
	}
	args = append(args, q.DistanceThreshold, q.Limit)

	var out []types.MemoryCandidate
	err := dbc.DB(r.db).Raw(`
		SELECT msg_id, thread_id, role, content, priority, distance,
		       distance * ? - priority * ? AS score
		FROM (
			SELECT msg_id, thread_id, role, content, priority, emb <-> ? AS distance
			FROM messages
			WHERE user_id = ?
			  AND embed_ready
			  AND emb IS NOT NULL
			  AND priority IS NOT NULL
			  AND content IS NOT NULL
			  `+excludeFilter+`
		) c
		WHERE distance <= ?
		ORDER BY score ASC, msg_id ASC
		LIMIT ?`, args...).
		Scan(&out).Error
	return out, err
}

func (r *messageRepo) ListPendingEmbeddings(dbc dbctx.Context, limit int) ([]*types.Message, error) {
	var out []*types.Message
	err := dbc.DB(r.db).
		Omit("emb").
		Where("embed_ready = ? AND content IS NOT NULL", false).
		Order("msg_id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
