// Package server implements the HTTP API that exposes the retrieval index:
// index a document, retrieve the chunks nearest a query, and build the
// augmented context used for interview question generation.
// The server is started by the `prepai serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/prepai-go/internal/augment"
	"github.com/54b3r/prepai-go/internal/history"
	"github.com/54b3r/prepai-go/internal/logging"
	"github.com/54b3r/prepai-go/internal/rag"
	"github.com/54b3r/prepai-go/internal/version"
)

// defaultMaxBodyBytes caps JSON request bodies when Config.MaxBodyBytes is zero.
const defaultMaxBodyBytes = 10 << 20

// defaultHistoryLimit is the number of builds GET /api/history returns when
// the request omits limit.
const defaultHistoryLimit = 20

// New constructs a Server from the provided index and config.
func New(store Index, cfg *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("server: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.TopK == 0 {
		cfg.TopK = augment.DefaultTopK
	}
	if cfg.Query == "" {
		cfg.Query = augment.DefaultQuery
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		store:   store,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		history: cfg.History,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stop

	if cfg.APIKey == "" {
		s.log.Warn("server: PREPAI_API_KEY is not set, API authentication is disabled")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(rl),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// routes assembles the mux. Health, readiness, and metrics are open; every
// other /api route requires the Bearer token, and POST routes are rate
// limited per client IP.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	protect := func(h http.Handler) http.Handler { return requireBearer(s.cfg.APIKey, h) }
	limited := func(h http.Handler) http.Handler { return protect(rl.middleware(h)) }

	mux := http.NewServeMux()
	mux.Handle("POST /api/index", s.instrument("index", limited(http.HandlerFunc(s.handleIndex))))
	mux.Handle("POST /api/retrieve", s.instrument("retrieve", limited(http.HandlerFunc(s.handleRetrieve))))
	mux.Handle("POST /api/context", s.instrument("context", limited(http.HandlerFunc(s.handleContext))))
	mux.Handle("GET /api/history", s.instrument("history", protect(http.HandlerFunc(s.handleHistory))))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	return requestLogger(s.log, mux)
}

// Handler returns the fully wrapped HTTP handler. Used by tests to drive the
// router without opening a socket.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.log.Info("server: stopped")
		return nil
	}
}

// handleIndex handles POST /api/index. It replaces the indexed document and
// records the build when a history log is configured.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if !s.decode(w, r, &req) {
		return
	}

	start := time.Now()
	stats, err := s.recorder(req.Source).Build(r.Context(), req.Document)
	s.metrics.observeOperation("index", err, time.Since(start))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, indexResponse{Chunks: stats.Chunks, Dimension: stats.Dimension})
}

// recorder wraps the store so every build it makes lands in the history log.
// An empty source is recorded as "api".
func (s *Server) recorder(source string) *history.Recorder {
	if source == "" {
		source = "api"
	}
	return &history.Recorder{Indexer: s.store, Log: s.history, Source: source}
}

// handleRetrieve handles POST /api/retrieve.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if !s.decode(w, r, &req) {
		return
	}
	topK := s.cfg.TopK
	if req.TopK != nil {
		topK = *req.TopK
	}

	start := time.Now()
	results, err := s.store.Search(r.Context(), req.Query, topK)
	s.metrics.observeOperation("retrieve", err, time.Since(start))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []rag.Result{}
	}
	writeJSON(w, r, http.StatusOK, retrieveResponse{Context: rag.JoinResults(results), Results: results})
}

// handleContext handles POST /api/context. It indexes the document and
// returns the augmented context; embedding outages degrade to the plain
// document rather than an error.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if !s.decode(w, r, &req) {
		return
	}
	b := &augment.Builder{Store: s.recorder(""), Query: req.Query, TopK: s.cfg.TopK}
	if b.Query == "" {
		b.Query = s.cfg.Query
	}
	if req.TopK != nil {
		b.TopK = *req.TopK
		if b.TopK == 0 {
			// Builder treats zero as "use the default"; the API treats it as invalid.
			s.writeError(w, r, fmt.Errorf("%w: topK must be positive", rag.ErrConfiguration))
			return
		}
	}

	start := time.Now()
	out, err := b.Build(r.Context(), req.Document)
	s.metrics.observeOperation("context", err, time.Since(start))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, contextResponse{Context: out})
}

// handleHistory handles GET /api/history?limit=n.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history is disabled", http.StatusNotFound)
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	builds, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if builds == nil {
		builds = []history.Build{}
	}
	writeJSON(w, r, http.StatusOK, historyResponse{Builds: builds})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// decode reads a JSON body into v, writing 400 and returning false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps store errors onto HTTP status codes: invalid parameters
// are the caller's fault (400), embedding outages are retryable (503).
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.Int("status", status), slog.Any("error", err))
	} else {
		log.Warn("request rejected", slog.Int("status", status), slog.Any("error", err))
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, r, status, errorResponse{Error: strings.TrimSpace(err.Error())})
}

// statusFor returns the HTTP status for a handler error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rag.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, rag.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}
