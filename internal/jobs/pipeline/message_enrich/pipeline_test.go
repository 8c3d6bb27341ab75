package message_enrich

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/yungbote/recall-backend/internal/data/repos/jobs/jobstest"
	types "github.com/yungbote/recall-backend/internal/domain"
	jobrt "github.com/yungbote/recall-backend/internal/jobs/runtime"
	"github.com/yungbote/recall-backend/internal/modules/memory"
	"github.com/yungbote/recall-backend/internal/modules/memory/memorytest"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
	"github.com/yungbote/recall-backend/internal/services/servicestest"
)

const content = "I met Alice at Acme Corp"

type fixture struct {
	emb      *memorytest.FakeEmbedder
	messages *memorytest.FakeMessageStore
	kg       *memorytest.FakeKgStore
	jobs     *jobstest.FakeJobRunRepo
	notify   *servicestest.RecordingNotifier
	pipeline *Pipeline

	user   uuid.UUID
	thread uuid.UUID
	msg    *types.Message
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		emb:      memorytest.NewFakeEmbedder(),
		messages: memorytest.NewFakeMessageStore(),
		kg:       memorytest.NewFakeKgStore(),
		jobs:     jobstest.NewFakeJobRunRepo(),
		notify:   &servicestest.RecordingNotifier{},
		user:     uuid.New(),
		thread:   uuid.New(),
	}
	scorer := memorytest.NewFakeScorer(map[string]string{
		"sentiment":   "2",
		"helpfulness": "0.5",
		"excitement":  "0.5",
		"triples":     `[{"s":"Alice","p":"works at","o":"Acme Corp"}]`,
	})
	enricher := memory.NewEnricher(memory.EnricherDeps{
		Log:      logger.Nop(),
		Embedder: f.emb,
		Scorer:   scorer,
		Messages: f.messages,
		KG:       f.kg,
	})
	f.pipeline = New(logger.Nop(), enricher)
	f.msg = f.messages.Add(&types.Message{UserID: f.user, ThreadID: f.thread, Role: types.RoleUser, Content: memorytest.Str(content)})
	return f
}

func (f *fixture) enqueue(t *testing.T, payload any, result string) uuid.UUID {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	job := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: f.user,
		JobType:     types.JobTypeMessageEnrich,
		Status:      types.JobStatusQueued,
		MaxAttempts: 3,
		Payload:     datatypes.JSON(raw),
	}
	if result != "" {
		job.Result = datatypes.JSON(result)
	}
	_, err = f.jobs.Create(dbctx.Context{}, []*types.JobRun{job})
	require.NoError(t, err)
	return job.ID
}

func (f *fixture) runAttempt(t *testing.T, id uuid.UUID) {
	t.Helper()
	job, err := f.jobs.ClaimByID(dbctx.Context{}, id, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job, "job should be claimable")
	jc := jobrt.NewContext(context.Background(), job, f.jobs, f.notify, jobrt.RetryPolicy{BackoffBase: time.Millisecond})
	require.NoError(t, f.pipeline.Run(jc))
}

func (f *fixture) payload() types.MessageEnrichPayload {
	return types.MessageEnrichPayload{MsgID: f.msg.ID, UserID: f.user, ThreadID: f.thread, Content: content}
}

func TestRunSucceedsAndReplacesResult(t *testing.T) {
	f := newFixture(t)
	id := f.enqueue(t, f.payload(), "")

	f.runAttempt(t, id)

	job := f.jobs.Get(id)
	assert.Equal(t, types.JobStatusSucceeded, job.Status)
	var result struct {
		Outcome string              `json:"outcome"`
		Report  memory.EnrichReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(job.Result, &result))
	assert.Equal(t, "ok", result.Outcome)
	assert.Equal(t, f.msg.ID, result.Report.MsgID)
	assert.NotContains(t, string(job.Result), `"checkpoint"`)
	assert.True(t, f.messages.Get(f.msg.ID).MetricsReady)
	assert.Len(t, f.kg.Nodes(f.user), 2)
	assert.Equal(t, []string{"progress", "done"}, f.notify.Kinds())
}

func TestRunResumesFromStoredCheckpoint(t *testing.T) {
	f := newFixture(t)
	checkpoint := map[string]any{
		types.CheckpointResultKey: memory.CheckpointSnapshot{Embeddings: map[string][]float32{
			"alice":     memorytest.OneHot(40),
			"acme corp": memorytest.OneHot(41),
		}},
	}
	raw, err := json.Marshal(checkpoint)
	require.NoError(t, err)
	id := f.enqueue(t, f.payload(), string(raw))

	f.runAttempt(t, id)

	assert.Equal(t, types.JobStatusSucceeded, f.jobs.Get(id).Status)
	assert.Equal(t, []string{content}, f.emb.Requested(), "label embeddings come from the checkpoint")
}

func TestRunFatalErrorIsRetriedThenSucceeds(t *testing.T) {
	f := newFixture(t)
	f.emb.FailOn[content] = true
	id := f.enqueue(t, f.payload(), "")

	f.runAttempt(t, id)
	first := f.jobs.Get(id)
	assert.Equal(t, types.JobStatusFailed, first.Status)
	assert.Equal(t, memory.StageEmbed, first.Stage)
	assert.True(t, first.Retryable())

	delete(f.emb.FailOn, content)
	f.jobs.Now = func() time.Time { return time.Now().Add(time.Minute) }
	f.runAttempt(t, id)

	second := f.jobs.Get(id)
	assert.Equal(t, types.JobStatusSucceeded, second.Status)
	assert.Equal(t, 2, second.Attempts)
	assert.Equal(t, []string{"progress", "retrying", "progress", "done"}, f.notify.Kinds())
}

func TestRunInvalidPayloadIsTerminal(t *testing.T) {
	f := newFixture(t)
	id := f.enqueue(t, map[string]any{"user_id": f.user}, "")

	f.runAttempt(t, id)

	job := f.jobs.Get(id)
	assert.Equal(t, types.JobStatusFailed, job.Status)
	assert.Equal(t, "validate", job.Stage)
	assert.False(t, job.Retryable())
}

func TestRunEmptyContentIsTerminal(t *testing.T) {
	f := newFixture(t)
	empty := f.messages.Add(&types.Message{UserID: f.user, ThreadID: f.thread, Role: types.RoleUser, Content: memorytest.Str("  ")})
	id := f.enqueue(t, types.MessageEnrichPayload{MsgID: empty.ID, UserID: f.user, ThreadID: f.thread}, "")

	f.runAttempt(t, id)

	job := f.jobs.Get(id)
	assert.Equal(t, types.JobStatusFailed, job.Status)
	assert.False(t, job.Retryable())
	assert.Equal(t, []string{"progress", "failed"}, f.notify.Kinds())
}
