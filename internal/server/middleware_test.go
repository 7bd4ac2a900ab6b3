package server

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/54b3r/prepai-go/internal/logging"
)

func TestRequestLogger_GeneratesAndEchoesID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	var ctxLogger *slog.Logger
	h := requestLogger(base, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxLogger = logging.FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	id := w.Header().Get(requestIDHeader)
	if len(id) != 36 {
		t.Errorf("want generated UUID request ID, got %q", id)
	}
	if ctxLogger == nil || ctxLogger == slog.Default() {
		t.Error("want request-scoped logger in context")
	}
	out := buf.String()
	if !strings.Contains(out, `"status":418`) || !strings.Contains(out, id) {
		t.Errorf("want status and request ID in log, got %s", out)
	}
}

func TestRequestLogger_ReusesCallerID(t *testing.T) {
	t.Parallel()

	h := requestLogger(discardLogger(), okHandler)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, "trace-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get(requestIDHeader); got != "trace-123" {
		t.Errorf("want caller ID echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", maxRequestIDLen+1))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); len(got) != 36 {
		t.Errorf("want oversized ID replaced, got %q", got)
	}
}
