package testutil

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	types "github.com/yungbote/recall-backend/internal/domain"
)

// Vec returns a unit-length 3072-d vector pointing mostly along axis with a
// small component along axis+1, so related fixtures sit close together.
func Vec(axis int, tilt float32) []float32 {
	v := make([]float32, types.EmbeddingDim)
	v[axis%len(v)] = 1
	v[(axis+1)%len(v)] = tilt
	var n float64
	for _, x := range v {
		n += float64(x * x)
	}
	n = math.Sqrt(n)
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
	return v
}

func SeedMessage(tb testing.TB, ctx context.Context, tx *gorm.DB, userID, threadID uuid.UUID, role, content string, emb []float32, priority *float64, at time.Time) *types.Message {
	tb.Helper()
	m := &types.Message{
		UserID:    userID,
		ThreadID:  threadID,
		Role:      role,
		Content:   &content,
		Priority:  priority,
		CreatedAt: at,
	}
	if emb != nil {
		v := pgvector.NewVector(emb)
		m.Embedding = &v
		m.EmbedReady = true
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed message: %v", err)
	}
	return m
}

func SeedNode(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, label string, emb []float32) *types.KgNode {
	tb.Helper()
	n := &types.KgNode{UserID: userID, Label: label}
	if emb != nil {
		v := pgvector.NewVector(emb)
		n.Embedding = &v
	}
	if err := tx.WithContext(ctx).Create(n).Error; err != nil {
		tb.Fatalf("seed node: %v", err)
	}
	return n
}

func Ptr[T any](v T) *T { return &v }
