package memory_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/modules/memory"
	"github.com/yungbote/recall-backend/internal/modules/memory/memorytest"
	apperr "github.com/yungbote/recall-backend/internal/pkg/errors"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

func newCanonicalizer() (*memory.Canonicalizer, *memorytest.FakeEmbedder, *memorytest.FakeKgStore) {
	emb := memorytest.NewFakeEmbedder()
	kg := memorytest.NewFakeKgStore()
	return memory.NewCanonicalizer(logger.Nop(), emb, kg), emb, kg
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "acme corp", memory.NormalizeLabel("  Acme Corp \n"))
	long := strings.Repeat("é", memory.MaxLabelLength+10)
	assert.Equal(t, memory.MaxLabelLength, len([]rune(memory.NormalizeLabel(long))))
}

func TestResolve_Idempotent(t *testing.T) {
	c, _, kg := newCanonicalizer()
	ctx := context.Background()
	user := uuid.New()

	first, err := c.Resolve(ctx, user, "Alice", memory.NewCheckpoint())
	require.NoError(t, err)
	second, err := c.Resolve(ctx, user, "  alice ", memory.NewCheckpoint())
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.NodeID, second.NodeID)
	assert.Equal(t, memory.PathExact, second.Path)
	assert.Len(t, kg.Nodes(user), 1)
}

func TestResolve_SameLabelIsPerUser(t *testing.T) {
	c, _, kg := newCanonicalizer()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	ra, err := c.Resolve(ctx, a, "alice", memory.NewCheckpoint())
	require.NoError(t, err)
	rb, err := c.Resolve(ctx, b, "alice", memory.NewCheckpoint())
	require.NoError(t, err)
	assert.NotEqual(t, ra.NodeID, rb.NodeID)
	assert.True(t, rb.Created)
	assert.Len(t, kg.Nodes(a), 1)
	assert.Len(t, kg.Nodes(b), 1)
}

func TestResolve_SimilarityBoundary(t *testing.T) {
	cases := []struct {
		distance float64
		merged   bool
	}{
		{0.149999, true},
		{0.15, false},
		{0.150001, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%v", tc.distance), func(t *testing.T) {
			c, _, kg := newCanonicalizer()
			user := uuid.New()
			existing := kg.SeedNode(user, "acme corporation", memorytest.OneHot(50), 0)
			kg.NearestFn = func(uuid.UUID, []float32) (*types.NodeMatch, error) {
				return &types.NodeMatch{NodeID: existing, Label: "acme corporation", Distance: tc.distance}, nil
			}

			res, err := c.Resolve(context.Background(), user, "Acme Corp", memory.NewCheckpoint())
			require.NoError(t, err)
			if tc.merged {
				assert.Equal(t, existing, res.NodeID)
				assert.False(t, res.Created)
				assert.Equal(t, memory.PathMerged, res.Path)
				assert.Len(t, kg.Nodes(user), 1)
			} else {
				assert.NotEqual(t, existing, res.NodeID)
				assert.True(t, res.Created)
				assert.Len(t, kg.Nodes(user), 2)
			}
		})
	}
}

func TestResolve_MergesNearDuplicateByVector(t *testing.T) {
	c, emb, kg := newCanonicalizer()
	user := uuid.New()
	existing := kg.SeedNode(user, "acme corporation", memorytest.OneHot(3), 2)
	emb.Set("acme corp", memorytest.AtCosineDistance(3, 0.05))

	res, err := c.Resolve(context.Background(), user, "ACME Corp", memory.NewCheckpoint())
	require.NoError(t, err)
	assert.Equal(t, existing, res.NodeID)
	assert.Equal(t, "acme corporation", res.Label)
}

func TestResolve_ProbeFailureCreates(t *testing.T) {
	c, _, kg := newCanonicalizer()
	user := uuid.New()
	kg.Fail["NearestNode"] = true

	res, err := c.Resolve(context.Background(), user, "alice", memory.NewCheckpoint())
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestResolve_ConcurrentSameLabelYieldsOneNode(t *testing.T) {
	c, _, kg := newCanonicalizer()
	user := uuid.New()

	var arrived sync.WaitGroup
	arrived.Add(2)
	kg.BeforeInsert = func(string) {
		arrived.Done()
		arrived.Wait()
	}

	var wg sync.WaitGroup
	results := make([]memory.Resolution, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Resolve(context.Background(), user, "Brand New Thing", memory.NewCheckpoint())
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].NodeID, results[1].NodeID)
	assert.NotEqual(t, results[0].Created, results[1].Created, "exactly one caller creates")
	assert.Len(t, kg.Nodes(user), 1)
}

func TestResolve_EmptyLabel(t *testing.T) {
	c, _, _ := newCanonicalizer()
	_, err := c.Resolve(context.Background(), uuid.New(), "   ", memory.NewCheckpoint())
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))
}

func TestResolveBatch_SingleEmbedCall(t *testing.T) {
	c, emb, kg := newCanonicalizer()
	user := uuid.New()
	kg.SeedNode(user, "alice", memorytest.OneHot(60), 0)

	out, err := c.ResolveBatch(context.Background(), user,
		[]string{"Alice", "Acme Corp", "Bob", "acme corp", "  "}, memory.NewCheckpoint())
	require.NoError(t, err)

	assert.Len(t, out, 3)
	assert.Equal(t, memory.PathExact, out["alice"].Path)
	assert.Equal(t, 1, emb.CallCount())
	assert.ElementsMatch(t, []string{"acme corp", "bob"}, emb.Requested())
}

func TestResolveBatch_CapsDistinctLabels(t *testing.T) {
	c, _, kg := newCanonicalizer()
	user := uuid.New()
	labels := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	out, err := c.ResolveBatch(context.Background(), user, labels, memory.NewCheckpoint())
	require.NoError(t, err)
	assert.Len(t, out, memory.MaxLabelsPerMessage)
	assert.Len(t, kg.Nodes(user), memory.MaxLabelsPerMessage)
	_, ok := out["g"]
	assert.False(t, ok)
}

func TestResolveBatch_RestoredCheckpointSkipsEmbedding(t *testing.T) {
	c, emb, _ := newCanonicalizer()
	user := uuid.New()
	cp := memory.RestoreCheckpoint(&memory.CheckpointSnapshot{Embeddings: map[string][]float32{
		"acme corp": memorytest.OneHot(40),
		"alice":     memorytest.OneHot(41),
	}})

	out, err := c.ResolveBatch(context.Background(), user, []string{"Acme Corp", "Alice", "Bob"}, cp)
	require.NoError(t, err)
	assert.Len(t, out, 3)
	assert.Equal(t, []string{"bob"}, emb.Requested())

	_, ok := cp.Embedding("bob")
	assert.True(t, ok, "new label joins the checkpoint")
}

func TestResolveBatch_FailingLabelIsSkipped(t *testing.T) {
	c, _, kg := newCanonicalizer()
	user := uuid.New()
	kg.FailLabels["bob"] = true

	out, err := c.ResolveBatch(context.Background(), user, []string{"alice", "bob", "carol"}, memory.NewCheckpoint())
	require.Error(t, err)
	assert.True(t, errors.Is(err, memorytest.ErrInjected))
	assert.Len(t, out, 2)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "carol")
	assert.NotContains(t, out, "bob")
}

func TestResolveBatch_EmbedFailureStillCreates(t *testing.T) {
	c, emb, kg := newCanonicalizer()
	user := uuid.New()
	emb.Err = errors.New("provider down")

	out, err := c.ResolveBatch(context.Background(), user, []string{"alice"}, memory.NewCheckpoint())
	require.NoError(t, err)
	require.Contains(t, out, "alice")
	nodes := kg.Nodes(user)
	require.Len(t, nodes, 1)
	assert.Nil(t, nodes[0].Embedding)
}
