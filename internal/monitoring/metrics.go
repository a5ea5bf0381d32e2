// Package monitoring exposes Prometheus metrics and dependency health.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/docextract/internal/model"
	"github.com/sells-group/docextract/internal/resilience"
)

// Metrics holds the service collectors on a dedicated registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests           *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	stageOutcomes      *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
	extractionSource   *prometheus.CounterVec
	structuringFailure *prometheus.CounterVec
	circuitState       *prometheus.GaugeVec
	dependencyUp       *prometheus.GaugeVec
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docextract_requests_total",
			Help: "Upload requests by profile and HTTP status.",
		}, []string{"profile", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docextract_request_duration_seconds",
			Help:    "End-to-end upload request latency.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"profile"}),
		stageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docextract_stage_outcomes_total",
			Help: "Extraction stage outcomes.",
		}, []string{"stage", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docextract_stage_duration_seconds",
			Help:    "Extraction stage latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage"}),
		extractionSource: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docextract_extraction_source_total",
			Help: "Stage whose text was accepted.",
		}, []string{"stage"}),
		structuringFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docextract_structuring_failures_total",
			Help: "Model calls replaced by the fallback message.",
		}, []string{"provider"}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docextract_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		}, []string{"service"}),
		dependencyUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docextract_dependency_up",
			Help: "Whether an external tool was found on the last check.",
		}, []string{"dependency"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.requestDuration,
		m.stageOutcomes,
		m.stageDuration,
		m.extractionSource,
		m.structuringFailure,
		m.circuitState,
		m.dependencyUp,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one finished upload request.
func (m *Metrics) ObserveRequest(profile string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(profile, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(profile).Observe(d.Seconds())
}

// ObserveStage records the outcome and latency of one extraction stage.
func (m *Metrics) ObserveStage(stage model.Stage, outcome model.Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.stageOutcomes.WithLabelValues(string(stage), string(outcome)).Inc()
	if outcome != model.OutcomeSkipped {
		m.stageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
	}
}

// ObserveSource records which stage produced the accepted text.
func (m *Metrics) ObserveSource(stage model.Stage) {
	if m == nil {
		return
	}
	m.extractionSource.WithLabelValues(string(stage)).Inc()
}

// StructuringFailed counts a model call that fell back to the sentinel.
func (m *Metrics) StructuringFailed(provider string) {
	if m == nil {
		return
	}
	m.structuringFailure.WithLabelValues(provider).Inc()
}

// SetCircuitState publishes a breaker transition. Its signature matches
// cloudocr.WithStateChange.
func (m *Metrics) SetCircuitState(service string, state resilience.CircuitState) {
	if m == nil {
		return
	}
	m.circuitState.WithLabelValues(service).Set(float64(state))
}

// SetDependencyUp publishes the result of a dependency probe.
func (m *Metrics) SetDependencyUp(name string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.dependencyUp.WithLabelValues(name).Set(v)
}
