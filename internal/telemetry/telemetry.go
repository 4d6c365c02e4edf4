// Package telemetry records per-pipeline-stage counts and durations as
// Prometheus metrics, covering the gateway's fixed set of pipeline
// stages: precheck, fasttrack, toolrouting, retrieval, ranking,
// postranking.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the instrumentation boundary pipeline stages call through.
// A nil *Recorder is valid and records nothing, so callers that build a
// Handler without metrics don't need a separate no-op type.
type Recorder struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
	activeRequest prometheus.Gauge

	backendCalls    *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	backendErrors   *prometheus.CounterVec
}

// New builds a Recorder with its own registry, namespaced under
// "gateway". Pass the result's Handler() to the transport's /metrics
// route.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each query pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"stage"}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "pipeline",
			Name:      "stage_errors_total",
			Help:      "Errors encountered within each query pipeline stage.",
		}, []string{"stage", "kind"}),
		activeRequest: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "pipeline",
			Name:      "active_requests",
			Help:      "Number of in-flight /ask requests.",
		}),
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "retrieval",
			Name:      "backend_calls_total",
			Help:      "Calls made to each retrieval backend.",
		}, []string{"backend"}),
		backendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "retrieval",
			Name:      "backend_duration_seconds",
			Help:      "Duration of each retrieval backend call.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"backend"}),
		backendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "retrieval",
			Name:      "backend_errors_total",
			Help:      "Failed calls to each retrieval backend.",
		}, []string{"backend"}),
	}
	reg.MustRegister(r.stageDuration, r.stageErrors, r.activeRequest, r.backendCalls, r.backendDuration, r.backendErrors)
	return r
}

// Handler serves the recorder's registered metrics.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// StageTimer starts timing one pipeline stage; call the returned func when
// the stage completes.
func (r *Recorder) StageTimer(stage string) func() {
	if r == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		r.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// RecordStageError increments the error counter for stage/kind.
func (r *Recorder) RecordStageError(stage, kind string) {
	if r == nil {
		return
	}
	r.stageErrors.WithLabelValues(stage, kind).Inc()
}

// IncActiveRequests/DecActiveRequests track in-flight /ask calls.
func (r *Recorder) IncActiveRequests() {
	if r == nil {
		return
	}
	r.activeRequest.Inc()
}

func (r *Recorder) DecActiveRequests() {
	if r == nil {
		return
	}
	r.activeRequest.Dec()
}

// RecordBackendCall records one retrieval backend call's duration and
// whether it failed.
func (r *Recorder) RecordBackendCall(backend string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.backendCalls.WithLabelValues(backend).Inc()
	r.backendDuration.WithLabelValues(backend).Observe(d.Seconds())
	if err != nil {
		r.backendErrors.WithLabelValues(backend).Inc()
	}
}
