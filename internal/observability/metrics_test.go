package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveLLMRequest("embed", "ok", time.Second)
	m.ObserveEnrichStage("graph", "partial", time.Second)
	m.IncCanonicalize("exact")
	m.AddBackfill(1, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestMetricsRecordAndServe(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveEnrichStage("graph", "partial", 10*time.Millisecond)
	m.ObserveEnrichStage("graph", "partial", 10*time.Millisecond)
	m.IncCanonicalize("merged")
	m.AddBackfill(3, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.enrichStages.WithLabelValues("graph", "partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.canonicalPath.WithLabelValues("merged")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.backfill.WithLabelValues("processed")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "recall_enrich_stage_total"))
}
