// Package observability provides Prometheus metrics, HTTP middleware and
// OpenTelemetry tracing setup for the query agent.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineBuckets covers embedding and generation latencies from 50ms to 5m.
var PipelineBuckets = []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}

var (
	// RequestsTotal counts HTTP requests by method, route and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cqa_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cqa_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: PipelineBuckets,
		},
		[]string{"method", "route"},
	)

	// StageTotal counts pipeline stage runs by outcome.
	StageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cqa_pipeline_stage_total",
			Help: "Pipeline stage executions",
		},
		[]string{"stage", "status"},
	)

	// StageDuration records pipeline stage latency in seconds.
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cqa_pipeline_stage_duration_seconds",
			Help:    "Pipeline stage duration",
			Buckets: PipelineBuckets,
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StageTotal,
		StageDuration,
	)
}

// StageMetrics records ingestion and query stages into the package collectors.
type StageMetrics struct{}

// ObserveStage implements application.StageObserver.
func (StageMetrics) ObserveStage(stage string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StageTotal.WithLabelValues(stage, status).Inc()
	StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// MetricsMiddleware wraps an HTTP handler to record request count and
// duration. The route label is the ServeMux pattern that matched.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sw := &StatusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		statusStr := strconv.Itoa(sw.status/100) + "xx"

		RequestsTotal.WithLabelValues(r.Method, route, statusStr).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// StatusWriter wraps http.ResponseWriter to capture the status code.
type StatusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

// NewStatusWriter wraps w. The status defaults to 200.
func NewStatusWriter(w http.ResponseWriter) *StatusWriter {
	return &StatusWriter{ResponseWriter: w, status: http.StatusOK}
}

// Status returns the captured status code.
func (w *StatusWriter) Status() int { return w.status }

// WriteHeader captures the status code and delegates to the underlying writer.
func (w *StatusWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

// Write delegates to the underlying writer and marks the status as written.
func (w *StatusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter.
func (w *StatusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
