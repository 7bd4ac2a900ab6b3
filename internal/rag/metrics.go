package rag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values shared by the store counters.
const (
	outcomeOK    = "ok"
	outcomeEmpty = "empty"
	outcomeError = "error"
)

// Metrics holds the Prometheus collectors updated by a Store.
// A nil *Metrics disables instrumentation.
type Metrics struct {
	// buildsTotal counts BuildIndex calls by outcome: ok, empty, or error.
	buildsTotal *prometheus.CounterVec

	// buildDurationSeconds records the wall-clock duration of successful
	// and failed builds, including the embedding call.
	buildDurationSeconds prometheus.Histogram

	// retrievalsTotal counts Retrieve/Search calls by outcome.
	retrievalsTotal *prometheus.CounterVec

	// chunks is the number of chunks in the currently visible index.
	chunks prometheus.Gauge

	// embedDurationSeconds records Embedder latency, partitioned by op
	// ("build" or "query").
	embedDurationSeconds *prometheus.HistogramVec
}

// NewMetrics registers the store metrics against reg. Passing a fresh
// prometheus.Registry keeps tests hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		buildsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prepai",
			Subsystem: "store",
			Name:      "builds_total",
			Help:      "Total number of index builds, partitioned by outcome.",
		}, []string{"outcome"}),

		buildDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "prepai",
			Subsystem: "store",
			Name:      "build_duration_seconds",
			Help:      "Duration of index builds including the batched embedding call.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),

		retrievalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prepai",
			Subsystem: "store",
			Name:      "retrievals_total",
			Help:      "Total number of retrieval queries, partitioned by outcome.",
		}, []string{"outcome"}),

		chunks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "prepai",
			Subsystem: "store",
			Name:      "chunks",
			Help:      "Number of chunks in the currently served index.",
		}),

		embedDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "prepai",
			Subsystem: "store",
			Name:      "embed_duration_seconds",
			Help:      "Latency of Embedder calls made by the store.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
}

func (m *Metrics) observeBuild(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.buildsTotal.WithLabelValues(outcome).Inc()
	m.buildDurationSeconds.Observe(seconds)
}

func (m *Metrics) observeRetrieval(outcome string) {
	if m == nil {
		return
	}
	m.retrievalsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeEmbed(op string, seconds float64) {
	if m == nil {
		return
	}
	m.embedDurationSeconds.WithLabelValues(op).Observe(seconds)
}

func (m *Metrics) setChunks(n int) {
	if m == nil {
		return
	}
	m.chunks.Set(float64(n))
}
