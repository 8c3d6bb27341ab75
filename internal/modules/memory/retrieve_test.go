package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/modules/memory"
	"github.com/yungbote/recall-backend/internal/modules/memory/memorytest"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

// twentyCandidates spans the distance cutoff, the top-k cut and the score cutoff.
func twentyCandidates() []types.MemoryCandidate {
	rows := []struct {
		id       int64
		distance float64
		priority float64
	}{
		{1, 0.10, 0.9}, {2, 0.20, 0.9}, {3, 0.30, 0.9}, {4, 0.40, 0.9}, {5, 0.50, 0.9},
		{6, 0.60, 0.9}, {7, 0.65, 0.2}, {8, 0.70, 0.1}, {9, 0.72, 0.0}, {10, 0.74, 0.0},
		{11, 0.76, 0.0}, {12, 0.78, 0.0}, {13, 0.80, 0.0}, {14, 0.80, 0.5}, {15, 0.79, 0.0},
		{16, 0.20, 0.0}, {17, 0.81, 1.0}, {18, 0.95, 1.0}, {19, 1.20, 1.0}, {20, 0.05, 0.0},
	}
	out := make([]types.MemoryCandidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.MemoryCandidate{MsgID: r.id, Content: "m", Distance: r.distance, Priority: r.priority})
	}
	return out
}

func ids(cands []types.MemoryCandidate) []int64 {
	out := make([]int64, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.MsgID)
	}
	return out
}

func TestRankMemories_TwentyCandidates(t *testing.T) {
	got := memory.RankMemories(twentyCandidates(), 0.8, 0.5, 12)
	// 17 pass the distance cut; the 12 best include id 9 (score 0.504) which the score cut drops.
	assert.Equal(t, []int64{1, 2, 3, 4, 20, 5, 16, 6, 7, 14, 8}, ids(got))
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Score, got[i].Score)
	}
	for _, c := range got {
		assert.LessOrEqual(t, c.Distance, 0.8)
		assert.LessOrEqual(t, c.Score, 0.5)
	}
}

func TestRankMemories_TruncatesToK(t *testing.T) {
	got := memory.RankMemories(twentyCandidates(), 0.8, 0.5, 5)
	assert.Equal(t, []int64{1, 2, 3, 4, 20}, ids(got))
}

func TestRankMemories_EmptyIsNonNil(t *testing.T) {
	got := memory.RankMemories(nil, 0.8, 0.5, 12)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRetrieve_RanksStoreCandidates(t *testing.T) {
	store := memorytest.NewFakeMessageStore()
	store.Candidates = twentyCandidates()
	r := memory.NewRetriever(logger.Nop(), memorytest.NewFakeEmbedder(), store, memory.DefaultRetrieverConfig())
	user, thread := uuid.New(), uuid.New()

	got := r.Retrieve(context.Background(), user, "what did I say about acme?", &thread, 0)
	assert.Len(t, got, 11)

	require.NotNil(t, store.LastQuery)
	assert.Equal(t, user, store.LastQuery.UserID)
	assert.Equal(t, thread, *store.LastQuery.ExcludeThreadID)
	assert.Equal(t, memory.DefaultK, store.LastQuery.Limit)
	assert.Equal(t, memory.DefaultDistanceThreshold, store.LastQuery.DistanceThreshold)
	assert.Equal(t, memory.RetrievalDistanceWeight, store.LastQuery.DistanceWeight)
	assert.Equal(t, memory.RetrievalPriorityWeight, store.LastQuery.PriorityWeight)
}

func TestRetrieve_ExcludesCurrentThreadAndOtherUsers(t *testing.T) {
	store := memorytest.NewFakeMessageStore()
	emb := memorytest.NewFakeEmbedder()
	emb.Set("acme", memorytest.OneHot(5))
	user, current, older := uuid.New(), uuid.New(), uuid.New()

	seed := func(userID, threadID uuid.UUID, priority float64) int64 {
		m := store.Add(&types.Message{UserID: userID, ThreadID: threadID, Role: types.RoleUser, Content: memorytest.Str("acme stuff"), CreatedAt: time.Now()})
		require.NoError(t, store.UpdateEmbedding(dbcNone(), m.ID, memorytest.OneHot(5)))
		require.NoError(t, store.UpdateMetrics(dbcNone(), m.ID, types.MessageMetrics{Priority: priority}))
		return m.ID
	}
	want := seed(user, older, 0.5)
	seed(user, current, 0.9)
	seed(uuid.New(), older, 0.9)

	r := memory.NewRetriever(logger.Nop(), emb, store, memory.DefaultRetrieverConfig())
	got := r.Retrieve(context.Background(), user, "acme", &current, 0)
	require.Len(t, got, 1)
	assert.Equal(t, want, got[0].MsgID)
	assert.InDelta(t, -0.15, got[0].Score, 1e-9)
}

func TestRetrieve_FailuresReturnEmpty(t *testing.T) {
	user := uuid.New()

	emb := memorytest.NewFakeEmbedder()
	emb.Err = errors.New("provider down")
	r := memory.NewRetriever(logger.Nop(), emb, memorytest.NewFakeMessageStore(), memory.DefaultRetrieverConfig())
	got := r.Retrieve(context.Background(), user, "q", nil, 0)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	store := memorytest.NewFakeMessageStore()
	store.Fail["MemoryCandidates"] = true
	r = memory.NewRetriever(logger.Nop(), memorytest.NewFakeEmbedder(), store, memory.DefaultRetrieverConfig())
	got = r.Retrieve(context.Background(), user, "q", nil, 0)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRetrieve_ZeroScoreThresholdIsKept(t *testing.T) {
	store := memorytest.NewFakeMessageStore()
	store.Candidates = twentyCandidates()
	cfg := memory.DefaultRetrieverConfig()
	cfg.ScoreThreshold = 0
	r := memory.NewRetriever(logger.Nop(), memorytest.NewFakeEmbedder(), store, cfg)
	assert.Equal(t, 0.0, r.Config().ScoreThreshold)

	got := r.Retrieve(context.Background(), uuid.New(), "anything", nil, 0)
	for _, c := range got {
		assert.LessOrEqual(t, c.Score, 0.0)
	}
	assert.Less(t, len(got), len(memory.RankMemories(twentyCandidates(), memory.DefaultDistanceThreshold, memory.DefaultScoreThreshold, memory.DefaultK)))
}
