package memory_test

import (
	"context"
	"errors"
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

type enrichFixture struct {
	emb      *memorytest.FakeEmbedder
	scorer   *memorytest.FakeScorer
	messages *memorytest.FakeMessageStore
	kg       *memorytest.FakeKgStore
	mirror   *memorytest.FakeMirror
	enricher *memory.Enricher

	user   uuid.UUID
	thread uuid.UUID
	target *types.Message
}

const aliceTriple = `[{"s":"Alice","p":"works at","o":"Acme Corp"}]`

func newEnrichFixture(t *testing.T, responses map[string]string) *enrichFixture {
	t.Helper()
	f := &enrichFixture{
		emb:      memorytest.NewFakeEmbedder(),
		scorer:   memorytest.NewFakeScorer(responses),
		messages: memorytest.NewFakeMessageStore(),
		kg:       memorytest.NewFakeKgStore(),
		mirror:   &memorytest.FakeMirror{},
		user:     uuid.New(),
		thread:   uuid.New(),
	}
	f.enricher = memory.NewEnricher(memory.EnricherDeps{
		Log:      logger.Nop(),
		Embedder: f.emb,
		Scorer:   f.scorer,
		Messages: f.messages,
		KG:       f.kg,
		Mirror:   f.mirror,
	})
	f.messages.Add(&types.Message{UserID: f.user, ThreadID: f.thread, Role: types.RoleUser, Content: memorytest.Str("who do you know?")})
	f.messages.Add(&types.Message{UserID: f.user, ThreadID: f.thread, Role: types.RoleAssistant, Content: memorytest.Str("tell me more")})
	f.target = f.messages.Add(&types.Message{UserID: f.user, ThreadID: f.thread, Role: types.RoleUser, Content: memorytest.Str("I met Alice at Acme Corp")})
	return f
}

func (f *enrichFixture) input() memory.EnrichInput {
	return memory.EnrichInput{MsgID: f.target.ID, UserID: f.user, ThreadID: f.thread, Content: *f.target.Content}
}

func defaultResponses() map[string]string {
	return map[string]string{
		"sentiment":   "3",
		"helpfulness": "0.6",
		"excitement":  "0.5",
		"triples":     aliceTriple,
	}
}

func TestEnrich_FullPipeline(t *testing.T) {
	f := newEnrichFixture(t, defaultResponses())

	var saved *memory.CheckpointSnapshot
	in := f.input()
	in.SaveCheckpoint = func(_ context.Context, snap memory.CheckpointSnapshot) error {
		saved = &snap
		return nil
	}

	report, err := f.enricher.Enrich(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, memory.StageOK, report.Outcome())
	assert.False(t, report.EmbeddingReused)
	assert.Equal(t, 1, report.Triples)
	assert.Equal(t, 2, report.NodesCreated)
	assert.Equal(t, 1, report.Edges)

	msg := f.messages.Get(f.target.ID)
	require.True(t, msg.EmbedReady)
	require.True(t, msg.MetricsReady)
	assert.Equal(t, 3, *msg.Sentiment)
	assert.InDelta(t, 1.0, *msg.Novelty, 1e-12, "no prior embedded messages")
	assert.InDelta(t, 0.1, *msg.Centrality, 1e-12)
	// 0.3*1 + 0.3*0.5 + 0.2*0.6 + 0.1*0.1 + 0.1*3
	assert.InDelta(t, 0.88, *msg.Priority, 1e-9)
	assert.InDelta(t, 0.88, report.Metrics.Priority, 1e-9)

	nodes := f.kg.Nodes(f.user)
	require.Len(t, nodes, 2)
	for _, n := range nodes {
		assert.Equal(t, 1, n.Degree)
		assert.True(t, f.kg.Linked(f.target.ID, n.ID))
	}
	edges := f.kg.Edges(f.user)
	require.Len(t, edges, 1)
	assert.Equal(t, "works_at", edges[0].Relation)

	require.Len(t, f.mirror.Calls, 1)
	assert.Equal(t, []int64{nodes[0].ID, nodes[1].ID}, f.mirror.Calls[0])

	require.NotNil(t, saved)
	assert.Contains(t, saved.Embeddings, "alice")
	assert.Contains(t, saved.Embeddings, "acme corp")
}

func TestEnrich_MalformedSentimentProceeds(t *testing.T) {
	resp := defaultResponses()
	resp["sentiment"] = "not-a-number"
	f := newEnrichFixture(t, resp)

	report, err := f.enricher.Enrich(context.Background(), f.input())
	require.NoError(t, err)
	assert.Equal(t, memory.StageOK, report.Outcome())
	assert.Equal(t, 0, report.Metrics.Sentiment)
	assert.True(t, f.messages.Get(f.target.ID).MetricsReady)
}

func TestEnrich_ScoringErrorIsPartial(t *testing.T) {
	f := newEnrichFixture(t, defaultResponses())
	f.scorer.Errors["helpfulness"] = errors.New("rate limited")

	report, err := f.enricher.Enrich(context.Background(), f.input())
	require.NoError(t, err)
	assert.Equal(t, memory.StagePartial, report.Outcome())
	assert.Equal(t, 0.0, report.Metrics.Helpfulness)
}

func TestEnrich_GraphFailureKeepsMetrics(t *testing.T) {
	f := newEnrichFixture(t, defaultResponses())
	f.kg.FailAll = true

	report, err := f.enricher.Enrich(context.Background(), f.input())
	require.NoError(t, err)
	assert.Equal(t, memory.StagePartial, report.Outcome())

	msg := f.messages.Get(f.target.ID)
	require.True(t, msg.MetricsReady)
	require.NotNil(t, msg.Sentiment)
	require.NotNil(t, msg.Excitement)
	require.NotNil(t, msg.Helpfulness)
	require.NotNil(t, msg.Novelty)
	require.NotNil(t, msg.Centrality)
	assert.Equal(t, 3, *msg.Sentiment)
	assert.InDelta(t, 0.5, *msg.Excitement, 1e-12)
	assert.InDelta(t, 0.6, *msg.Helpfulness, 1e-12)
	assert.InDelta(t, 1.0, *msg.Novelty, 1e-12)
	assert.Equal(t, 0.0, *msg.Centrality)
	assert.InDelta(t, 0.87, *msg.Priority, 1e-9)
	assert.Empty(t, f.mirror.Calls)
}

func TestEnrich_NoveltyFromPriorMessages(t *testing.T) {
	f := newEnrichFixture(t, map[string]string{"triples": "[]"})
	other := uuid.New()
	f.emb.Set("I met Alice at Acme Corp", memorytest.OneHot(10))
	prior := f.messages.Add(&types.Message{UserID: f.user, ThreadID: other, Role: types.RoleUser, Content: memorytest.Str("older")})
	require.NoError(t, f.messages.UpdateEmbedding(dbcNone(), prior.ID, memorytest.AtCosineDistance(10, 0.4)))

	report, err := f.enricher.Enrich(context.Background(), f.input())
	require.NoError(t, err)
	assert.InDelta(t, 0.4, report.Metrics.Novelty, 1e-6)
	assert.Equal(t, memory.StageOK, report.Outcome())
}

func TestEnrich_ReusesStoredEmbedding(t *testing.T) {
	f := newEnrichFixture(t, map[string]string{"triples": "[]"})
	require.NoError(t, f.messages.UpdateEmbedding(dbcNone(), f.target.ID, memorytest.OneHot(20)))

	report, err := f.enricher.Enrich(context.Background(), f.input())
	require.NoError(t, err)
	assert.True(t, report.EmbeddingReused)
	assert.Equal(t, 0, f.emb.CallCount())
}

func TestEnrich_RetryReusesCheckpoint(t *testing.T) {
	f := newEnrichFixture(t, defaultResponses())
	f.kg.Fail["InsertNodeIfAbsent"] = true

	var snap memory.CheckpointSnapshot
	in := f.input()
	in.SaveCheckpoint = func(_ context.Context, s memory.CheckpointSnapshot) error {
		snap = s
		return nil
	}
	report, err := f.enricher.Enrich(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, memory.StagePartial, report.Outcome())
	require.Len(t, snap.Embeddings, 2)

	// second attempt sees one more entity
	delete(f.kg.Fail, "InsertNodeIfAbsent")
	f.scorer.Responses["triples"] = `[{"s":"Alice","p":"works at","o":"Acme Corp"},{"s":"Alice","p":"knows","o":"Bob"}]`
	before := len(f.emb.Requested())

	in.Checkpoint = memory.RestoreCheckpoint(&snap)
	report, err = f.enricher.Enrich(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, memory.StageOK, report.Outcome())
	assert.True(t, report.EmbeddingReused)
	assert.Equal(t, []string{"bob"}, f.emb.Requested()[before:])
	assert.Len(t, f.kg.Nodes(f.user), 3)
}

func TestEnrich_MissingMessageIsFatal(t *testing.T) {
	f := newEnrichFixture(t, defaultResponses())
	in := f.input()
	in.MsgID = 9999

	report, err := f.enricher.Enrich(context.Background(), in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.Equal(t, memory.StageFatal, report.Outcome())
}

func TestEnrich_EmbedFailureIsFatal(t *testing.T) {
	f := newEnrichFixture(t, defaultResponses())
	f.emb.Err = errors.New("provider down")

	report, err := f.enricher.Enrich(context.Background(), f.input())
	require.Error(t, err)
	assert.Equal(t, memory.StageFatal, report.Outcome())
	assert.False(t, f.messages.Get(f.target.ID).MetricsReady)
}

func TestEnrich_MetricsWriteFailureIsFatal(t *testing.T) {
	f := newEnrichFixture(t, defaultResponses())
	f.messages.Fail["UpdateMetrics"] = true

	_, err := f.enricher.Enrich(context.Background(), f.input())
	require.Error(t, err)
	assert.Empty(t, f.kg.Nodes(f.user), "graph stage never ran")
}

func TestEnrich_EmptyContentIsFatal(t *testing.T) {
	f := newEnrichFixture(t, defaultResponses())
	empty := f.messages.Add(&types.Message{UserID: f.user, ThreadID: f.thread, Role: types.RoleUser, Content: memorytest.Str("  ")})

	_, err := f.enricher.Enrich(context.Background(), memory.EnrichInput{MsgID: empty.ID, UserID: f.user, ThreadID: f.thread})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))
}

func TestEnrich_FinalCentralityFailureIsPartial(t *testing.T) {
	f := newEnrichFixture(t, defaultResponses())
	f.messages.Fail["UpdateCentrality"] = true

	report, err := f.enricher.Enrich(context.Background(), f.input())
	require.NoError(t, err)
	assert.Equal(t, memory.StagePartial, report.Outcome())
	assert.Equal(t, 0.0, *f.messages.Get(f.target.ID).Centrality)
}
