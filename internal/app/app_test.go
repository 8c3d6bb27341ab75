package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/recall-backend/internal/config"
	"github.com/yungbote/recall-backend/internal/data/repos/jobs/jobstest"
	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/modules/memory/memorytest"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

type stubModel struct {
	*memorytest.FakeEmbedder
}

func (stubModel) GenerateText(context.Context, string, string) (string, error) { return "", nil }

func testDeps() (Repos, Clients) {
	repos := Repos{
		Messages:  memorytest.NewFakeMessageStore(),
		KG:        memorytest.NewFakeKgStore(),
		JobRuns:   jobstest.NewFakeJobRunRepo(),
		JobEvents: jobstest.NewFakeJobRunEventRepo(),
	}
	return repos, Clients{OpenAI: stubModel{memorytest.NewFakeEmbedder()}}
}

func TestWireServicesWithoutTemporalUsesPollingWorker(t *testing.T) {
	repos, clients := testDeps()

	svcs, err := wireServices(logger.Nop(), config.Default(), repos, clients)
	require.NoError(t, err)
	assert.NotNil(t, svcs.JobWorker)
	assert.Nil(t, svcs.TemporalWorker)
	assert.Equal(t, []string{types.JobTypeMessageEnrich}, svcs.JobRegistry.Types())
	assert.NotNil(t, svcs.Enricher)
	assert.Equal(t, 12, svcs.Retriever.Config().K)
}

func TestWiredServerServesHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repos, clients := testDeps()
	svcs, err := wireServices(logger.Nop(), config.Default(), repos, clients)
	require.NoError(t, err)

	srv := wireServer(logger.Nop(), config.Default(), wireHandlers(logger.Nop(), nil, svcs), nil)

	rec := httptest.NewRecorder()
	srv.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
