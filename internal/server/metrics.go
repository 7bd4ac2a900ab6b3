// Package server: metrics.go registers the Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/prepai-go/internal/rag"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// operationsTotal counts index/retrieve/context calls, partitioned by
	// operation and outcome: "ok", "invalid", "unavailable", or "error".
	operationsTotal *prometheus.CounterVec

	// operationDurationSeconds records store-level latency per operation,
	// excluding body decoding and response encoding.
	operationDurationSeconds *prometheus.HistogramVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		operationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prepai",
			Subsystem: "api",
			Name:      "operations_total",
			Help:      "Total number of index, retrieve, and context operations, partitioned by outcome.",
		}, []string{"operation", "outcome"}),

		operationDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "prepai",
			Subsystem: "api",
			Name:      "operation_duration_seconds",
			Help:      "Duration of index, retrieve, and context operations including embedding.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"operation"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prepai",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "prepai",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// observeOperation records one store operation.
func (m *serverMetrics) observeOperation(op string, err error, d time.Duration) {
	m.operationsTotal.WithLabelValues(op, outcomeFor(err)).Inc()
	m.operationDurationSeconds.WithLabelValues(op).Observe(d.Seconds())
}

// outcomeFor classifies an operation error for the outcome label.
func outcomeFor(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, rag.ErrConfiguration):
		return "invalid"
	case errors.Is(err, rag.ErrEmbeddingUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// instrument wraps next so every request is counted and timed under the
// given handler label.
func (s *Server) instrument(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
	})
}
