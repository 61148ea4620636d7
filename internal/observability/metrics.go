package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage outcomes recorded by the pipeline.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeFallback = "fallback"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Metrics owns a private registry so tests can build as many as they like.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
	stageLatency     *prometheus.HistogramVec
	stageOutcomes    *prometheus.CounterVec
	providerSelected *prometheus.CounterVec
	llmRequests      *prometheus.CounterVec
	llmTokens        *prometheus.CounterVec
	retries          *prometheus.CounterVec
	jobs             *prometheus.CounterVec
	dataQuality      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "detox_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})
	m.httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "detox_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
	m.stageLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "detox_pipeline_stage_duration_seconds",
		Help:    "Duration of each pipeline stage",
		Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"stage"})
	m.stageOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "detox_pipeline_stage_outcomes_total",
		Help: "Pipeline stage outcomes (ok, degraded, fallback, skipped, failed)",
	}, []string{"stage", "outcome"})
	m.providerSelected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "detox_llm_provider_selected_total",
		Help: "LLM provider routing decisions",
	}, []string{"provider"})
	m.llmRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "detox_llm_requests_total",
		Help: "LLM generate calls by provider and result",
	}, []string{"provider", "result"})
	m.llmTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "detox_llm_tokens_total",
		Help: "Tokens consumed by provider and kind",
	}, []string{"provider", "kind"})
	m.retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "detox_retries_total",
		Help: "Retried external calls",
	}, []string{"call"})
	m.jobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "detox_jobs_total",
		Help: "Finished background jobs by type and status",
	}, []string{"job_type", "status"})
	m.dataQuality = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "detox_data_quality_issues_total",
		Help: "Data quality issues detected in upstream outputs",
	}, []string{"stage", "issue"})

	m.registry.MustRegister(
		m.httpRequests, m.httpLatency,
		m.stageLatency, m.stageOutcomes,
		m.providerSelected, m.llmRequests, m.llmTokens,
		m.retries, m.jobs, m.dataQuality,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Status(404) }
	}
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) ObserveStage(stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageLatency.WithLabelValues(stage).Observe(d.Seconds())
	m.stageOutcomes.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) ProviderSelected(provider string) {
	if m == nil {
		return
	}
	m.providerSelected.WithLabelValues(provider).Inc()
}

func (m *Metrics) ObserveLLM(provider string, ok bool, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.llmRequests.WithLabelValues(provider, result).Inc()
	if promptTokens > 0 {
		m.llmTokens.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.llmTokens.WithLabelValues(provider, "completion").Add(float64(completionTokens))
	}
}

func (m *Metrics) Retry(call string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(call).Inc()
}

func (m *Metrics) JobFinished(jobType, status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(jobType, status).Inc()
}

func (m *Metrics) DataQualityIssue(stage, issue string) {
	if m == nil {
		return
	}
	m.dataQuality.WithLabelValues(stage, issue).Inc()
}
