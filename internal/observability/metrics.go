package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

// Metrics is nil-safe: every method is a no-op on a nil receiver so callers
// can use Current() unconditionally.
type Metrics struct {
	registry *prometheus.Registry

	llmRequests   *prometheus.CounterVec
	llmLatency    *prometheus.HistogramVec
	jobRuns       *prometheus.CounterVec
	jobLatency    *prometheus.HistogramVec
	enrichStages  *prometheus.CounterVec
	stageLatency  *prometheus.HistogramVec
	canonicalPath *prometheus.CounterVec
	retrievals    *prometheus.CounterVec
	retrievedRows prometheus.Histogram
	backfill      *prometheus.CounterVec
	apiRequests   *prometheus.CounterVec
	apiLatency    *prometheus.HistogramVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Current() *Metrics {
	return instance
}

// Init registers the process-wide metrics once. Disabled leaves Current() nil.
func Init(log *logger.Logger, enabled bool) *Metrics {
	initOnce.Do(func() {
		if !enabled {
			return
		}
		instance = NewMetrics(prometheus.NewRegistry())
		if log != nil {
			log.Info("prometheus metrics initialized")
		}
	})
	return instance
}

// NewMetrics registers every collector on reg. Tests pass a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_llm_requests_total",
			Help: "Requests to the language-model provider by operation and outcome.",
		}, []string{"operation", "status"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recall_llm_request_seconds",
			Help:    "Provider request latency including retries.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"operation"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_job_runs_total",
			Help: "Finished job attempts by type and status.",
		}, []string{"job_type", "status"}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recall_job_run_seconds",
			Help:    "Job attempt duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"job_type", "status"}),
		enrichStages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_enrich_stage_total",
			Help: "Enrichment stage outcomes (ok, partial, fatal).",
		}, []string{"stage", "outcome"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recall_enrich_stage_seconds",
			Help:    "Enrichment stage duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		canonicalPath: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_canonicalize_total",
			Help: "Entity resolutions by the branch that produced the node id.",
		}, []string{"path"}),
		retrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_memory_retrievals_total",
			Help: "Memory retrieval calls by outcome.",
		}, []string{"outcome"}),
		retrievedRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "recall_memory_retrieved_rows",
			Help:    "Memories returned per retrieval.",
			Buckets: prometheus.LinearBuckets(0, 2, 8),
		}),
		backfill: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_embedding_backfill_total",
			Help: "Backfilled message embeddings by result.",
		}, []string{"result"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_http_requests_total",
			Help: "Ops HTTP requests.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recall_http_request_seconds",
			Help:    "Ops HTTP latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.llmRequests, m.llmLatency,
		m.jobRuns, m.jobLatency,
		m.enrichStages, m.stageLatency,
		m.canonicalPath,
		m.retrievals, m.retrievedRows,
		m.backfill,
		m.apiRequests, m.apiLatency,
	)
	return m
}

// Handler serves the registry. A nil Metrics serves an empty 404.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveLLMRequest(operation, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(operation, status).Inc()
	m.llmLatency.WithLabelValues(operation).Observe(dur.Seconds())
}

func (m *Metrics) ObserveJob(jobType, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(jobType, status).Inc()
	m.jobLatency.WithLabelValues(jobType, status).Observe(dur.Seconds())
}

func (m *Metrics) ObserveEnrichStage(stage, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.enrichStages.WithLabelValues(stage, outcome).Inc()
	m.stageLatency.WithLabelValues(stage).Observe(dur.Seconds())
}

func (m *Metrics) IncCanonicalize(path string) {
	if m == nil {
		return
	}
	m.canonicalPath.WithLabelValues(path).Inc()
}

func (m *Metrics) ObserveRetrieval(outcome string, rows int) {
	if m == nil {
		return
	}
	m.retrievals.WithLabelValues(outcome).Inc()
	m.retrievedRows.Observe(float64(rows))
}

func (m *Metrics) AddBackfill(processed, failed int) {
	if m == nil {
		return
	}
	m.backfill.WithLabelValues("processed").Add(float64(processed))
	m.backfill.WithLabelValues("error").Add(float64(failed))
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.apiRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}
