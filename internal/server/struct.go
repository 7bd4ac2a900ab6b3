package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/prepai-go/internal/history"
	"github.com/54b3r/prepai-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover a full embedding call for a large document.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// MaxBodyBytes caps JSON request bodies (default: 10 MiB).
	MaxBodyBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// TopK is the retrieval fan-out used when a request omits topK.
	// Defaults to augment.DefaultTopK.
	TopK int
	// Query is the topic query used by POST /api/context when the request
	// omits one. Defaults to augment.DefaultQuery.
	Query string
	// History records index builds. Optional.
	History history.Log
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Index is the subset of *rag.Store the handlers use. Tests inject a fake.
type Index interface {
	// Build replaces the indexed document and reports the new index size.
	Build(ctx context.Context, document string) (rag.BuildStats, error)
	// Search returns the topK chunks nearest to query.
	Search(ctx context.Context, query string, topK int) ([]rag.Result, error)
	// Len returns the number of indexed chunks.
	Len() int
	// Dimension returns the embedding dimensionality of the index.
	Dimension() int
}

// Server is the HTTP server that exposes a single-document retrieval index.
type Server struct {
	// store is the index every handler reads and rebuilds.
	store Index
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// history records builds made through POST /api/index and
	// POST /api/context. May be nil.
	history history.Log
	// metrics holds the Prometheus collectors owned by the server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// indexRequest is the JSON body for POST /api/index.
type indexRequest struct {
	// Document is the full text to index. Empty clears the index.
	Document string `json:"document"`
	// Source labels the document in the build log (default "api").
	Source string `json:"source,omitempty"`
}

// indexResponse is the JSON response for POST /api/index.
type indexResponse struct {
	// Chunks is the number of chunks now indexed.
	Chunks int `json:"chunks"`
	// Dimension is the embedding dimensionality of the index.
	Dimension int `json:"dimension"`
}

// retrieveRequest is the JSON body for POST /api/retrieve.
type retrieveRequest struct {
	// Query is the retrieval query.
	Query string `json:"query"`
	// TopK is the number of chunks to return. Omitted uses the server default.
	TopK *int `json:"topK,omitempty"`
}

// retrieveResponse is the JSON response for POST /api/retrieve.
type retrieveResponse struct {
	// Context is the retrieved chunk texts joined nearest first.
	Context string `json:"context"`
	// Results lists each retrieved chunk with its distance.
	Results []rag.Result `json:"results"`
}

// contextRequest is the JSON body for POST /api/context.
type contextRequest struct {
	// Document is the full source document to index and augment.
	Document string `json:"document"`
	// Query overrides the server topic query.
	Query string `json:"query,omitempty"`
	// TopK overrides the server retrieval fan-out.
	TopK *int `json:"topK,omitempty"`
}

// contextResponse is the JSON response for POST /api/context.
type contextResponse struct {
	// Context is the retrieved sections composed ahead of the document.
	Context string `json:"context"`
}

// historyResponse is the JSON response for GET /api/history.
type historyResponse struct {
	// Builds lists recorded builds, newest first.
	Builds []history.Build `json:"builds"`
}

// errorResponse is the JSON body written for every handler error.
type errorResponse struct {
	// Error is a human-readable failure message.
	Error string `json:"error"`
}
