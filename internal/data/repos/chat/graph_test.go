package chat

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/recall-backend/internal/data/repos/testutil"
	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
)

func TestKgRepoNodeInsertIsConflictSafe(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewKgRepo(db, testutil.Logger(t))
	userID := uuid.New()

	v := pgvector.NewVector(testutil.Vec(1, 0))
	first := &types.KgNode{UserID: userID, Label: "acme corp", Embedding: &v}
	created, err := repo.InsertNodeIfAbsent(dbc, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, first.ID)

	dup := &types.KgNode{UserID: userID, Label: "acme corp"}
	created, err = repo.InsertNodeIfAbsent(dbc, dup)
	require.NoError(t, err)
	assert.False(t, created)

	found, err := repo.FindNodeByLabel(dbc, userID, "acme corp")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)

	other, err := repo.FindNodeByLabel(dbc, uuid.New(), "acme corp")
	require.NoError(t, err)
	assert.Nil(t, other, "graphs are per user")
}

func TestKgRepoNearestNode(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewKgRepo(db, testutil.Logger(t))
	ctx := context.Background()
	userID := uuid.New()

	none, err := repo.NearestNode(dbc, userID, testutil.Vec(5, 0))
	require.NoError(t, err)
	assert.Nil(t, none)

	near := testutil.SeedNode(t, ctx, tx, userID, "alice", testutil.Vec(5, 0))
	testutil.SeedNode(t, ctx, tx, userID, "bob", testutil.Vec(40, 0))
	testutil.SeedNode(t, ctx, tx, userID, "no vector", nil)

	m, err := repo.NearestNode(dbc, userID, testutil.Vec(5, 0.05))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, near.ID, m.NodeID)
	assert.Less(t, m.Distance, 0.01)
}

func TestKgRepoEdgesAndDegree(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewKgRepo(db, testutil.Logger(t))
	ctx := context.Background()
	userID := uuid.New()

	s := testutil.SeedNode(t, ctx, tx, userID, "alice", nil)
	o := testutil.SeedNode(t, ctx, tx, userID, "acme corp", nil)

	for i := 0; i < 2; i++ {
		require.NoError(t, repo.UpsertEdgeOrBumpWeight(dbc, &types.KgEdge{UserID: userID, SubjectID: s.ID, Relation: "works_at", ObjectID: o.ID, Weight: 1}))
		require.NoError(t, repo.IncrementDegree(dbc, s.ID, 1))
		require.NoError(t, repo.IncrementDegree(dbc, o.ID, 1))
	}

	edges, err := repo.EdgesTouching(dbc, userID, []int64{s.ID})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 2, edges[0].Weight)

	nodes, err := repo.NodesByIDs(dbc, []int64{s.ID, o.ID})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	for _, n := range nodes {
		assert.Equal(t, 2, n.Degree)
	}

	msg := testutil.SeedMessage(t, ctx, tx, userID, uuid.New(), types.RoleUser, "alice works at acme", nil, nil, nodes[0].CreatedAt)
	require.NoError(t, repo.LinkMessageToNode(dbc, msg.ID, s.ID))
	require.NoError(t, repo.LinkMessageToNode(dbc, msg.ID, s.ID), "duplicate link is ignored")
}
