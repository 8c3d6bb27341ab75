package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

func TestBuildSubgraphScopesToUser(t *testing.T) {
	user, other := uuid.New(), uuid.New()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	nodes := []*types.KgNode{
		{ID: 1, UserID: user, Label: "alice", Degree: 2},
		{ID: 2, UserID: user, Label: "acme corp", Degree: 1},
		{ID: 3, UserID: other, Label: "mallory"},
		nil,
	}
	edges := []*types.KgEdge{
		{ID: 10, UserID: user, SubjectID: 1, Relation: "works_at", ObjectID: 2, Weight: 3},
		{ID: 11, UserID: user, SubjectID: 1, Relation: "knows", ObjectID: 3},
		{ID: 12, UserID: user, SubjectID: 1, Relation: "knows", ObjectID: 99},
	}

	sub := buildSubgraph(user, nodes, edges, now)

	require.Len(t, sub.Nodes, 2)
	assert.Equal(t, int64(1), sub.Nodes[0]["node_id"])
	assert.Equal(t, "alice", sub.Nodes[0]["label"])
	assert.Equal(t, int64(2), sub.Nodes[0]["degree"])
	require.Len(t, sub.Edges, 1)
	assert.Equal(t, "works_at", sub.Edges[0]["relation"])
	assert.Equal(t, int64(3), sub.Edges[0]["weight"])
	assert.Equal(t, "2026-01-02T03:04:05Z", sub.SyncedAt)
}

func TestEndpointIDsIncludesFarEnds(t *testing.T) {
	edges := []*types.KgEdge{{SubjectID: 5, ObjectID: 1}, {SubjectID: 1, ObjectID: 7}}
	assert.Equal(t, []int64{1, 5, 7}, endpointIDs([]int64{1}, edges))
}

func TestSyncSubgraphWithoutClientIsNoop(t *testing.T) {
	m := NewMemoryGraphMirror(nil, nil, logger.Nop())
	assert.NoError(t, m.SyncSubgraph(context.Background(), uuid.New(), []int64{1}))
}

func TestSchemaGateRunsUntilFirstSuccess(t *testing.T) {
	var g schemaGate
	calls := 0
	setup := func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("neo4j unavailable")
		}
		return nil
	}

	require.Error(t, g.ensure(context.Background(), setup))
	require.NoError(t, g.ensure(context.Background(), setup))
	for i := 0; i < 5; i++ {
		require.NoError(t, g.ensure(context.Background(), setup))
	}
	assert.Equal(t, 2, calls)
}
