package jobrun

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"
	"gorm.io/datatypes"

	"github.com/yungbote/recall-backend/internal/data/repos/jobs/jobstest"
	types "github.com/yungbote/recall-backend/internal/domain"
	jobrt "github.com/yungbote/recall-backend/internal/jobs/runtime"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
	"github.com/yungbote/recall-backend/internal/services/servicestest"
)

type flakyHandler struct {
	failures int32
	calls    atomic.Int32
}

func (h *flakyHandler) Type() string { return "flaky" }

func (h *flakyHandler) Run(jc *jobrt.Context) error {
	if h.calls.Add(1) <= h.failures {
		return errors.New("transient")
	}
	jc.Succeed("done", map[string]bool{"ok": true})
	return nil
}

func setup(t *testing.T, h *flakyHandler, maxAttempts int) (*testsuite.TestWorkflowEnvironment, *jobstest.FakeJobRunRepo, *servicestest.RecordingNotifier, uuid.UUID) {
	t.Helper()
	repo := jobstest.NewFakeJobRunRepo()
	notify := &servicestest.RecordingNotifier{}
	job := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: uuid.New(),
		JobType:     "flaky",
		Status:      types.JobStatusQueued,
		MaxAttempts: maxAttempts,
		Payload:     datatypes.JSON(`{}`),
	}
	_, err := repo.Create(dbctx.Context{}, []*types.JobRun{job})
	require.NoError(t, err)

	reg := jobrt.NewRegistry()
	require.NoError(t, reg.Register(h))
	acts := &Activities{
		Log:      logger.Nop(),
		Jobs:     repo,
		Registry: reg,
		Notify:   notify,
		Retry:    jobrt.RetryPolicy{BackoffBase: time.Nanosecond},
	}

	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})
	env.RegisterActivityWithOptions(acts.Tick, activity.RegisterOptions{Name: ActivityTick})
	env.SetStartWorkflowOptions(client.StartWorkflowOptions{ID: job.ID.String()})
	return env, repo, notify, job.ID
}

func TestWorkflowRetriesUntilSuccess(t *testing.T) {
	h := &flakyHandler{failures: 1}
	env, repo, notify, id := setup(t, h, 3)

	env.ExecuteWorkflow(WorkflowName)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	job := repo.Get(id)
	assert.Equal(t, types.JobStatusSucceeded, job.Status)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, int32(2), h.calls.Load())
	assert.Equal(t, []string{"retrying", "done"}, notify.Kinds())
}

func TestWorkflowFailsWhenAttemptsExhausted(t *testing.T) {
	h := &flakyHandler{failures: 10}
	env, repo, notify, id := setup(t, h, 2)

	env.ExecuteWorkflow(WorkflowName)

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, types.JobStatusFailed, repo.Get(id).Status)
	assert.Equal(t, int32(2), h.calls.Load())
	assert.Equal(t, []string{"retrying", "failed"}, notify.Kinds())
}

func TestWorkflowReturnsForAlreadySucceededJob(t *testing.T) {
	h := &flakyHandler{}
	env, repo, _, id := setup(t, h, 3)
	require.NoError(t, repo.UpdateFields(dbctx.Context{}, id, map[string]interface{}{"status": types.JobStatusSucceeded}))

	env.ExecuteWorkflow(WorkflowName)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, int32(0), h.calls.Load())
}
