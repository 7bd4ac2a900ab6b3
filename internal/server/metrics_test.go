package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/prepai-go/internal/rag"
)

// counterValue returns the value of the counter name with the given labels,
// or -1 when it is absent from reg.
func counterValue(t *testing.T, reg prometheus.Gatherer, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return -1
}

func TestMetrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := do(t, s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Errorf("want 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func TestMetrics_OperationOutcomes(t *testing.T) {
	t.Parallel()
	idx := &fakeIndex{chunks: 1, dim: 2}
	s := newTestServerWith(t, idx, nil)
	reg := s.cfg.MetricsGatherer

	do(t, s, http.MethodPost, "/api/index", `{"document":"a"}`)
	do(t, s, http.MethodPost, "/api/retrieve", `{"query":"a","topK":0}`)

	if v := counterValue(t, reg, "prepai_api_operations_total", map[string]string{"operation": "index", "outcome": "ok"}); v != 1 {
		t.Errorf("index ok: want 1, got %v", v)
	}
	if v := counterValue(t, reg, "prepai_api_operations_total", map[string]string{"operation": "retrieve", "outcome": "invalid"}); v != 1 {
		t.Errorf("retrieve invalid: want 1, got %v", v)
	}
	if v := counterValue(t, reg, "prepai_http_requests_total", map[string]string{"handler": "retrieve", "code": "400", "method": "POST"}); v != 1 {
		t.Errorf("http retrieve 400: want 1, got %v", v)
	}
}

func TestMetrics_ExposedOverHTTP(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	do(t, s, http.MethodGet, "/api/health", "")
	w := do(t, s, http.MethodGet, "/metrics", "")

	body, _ := io.ReadAll(w.Body)
	want := `prepai_http_requests_total{code="200",handler="health",method="GET"} 1`
	if !strings.Contains(string(body), want) {
		t.Errorf("metrics output missing %q", want)
	}
}

func TestOutcomeFor(t *testing.T) {
	t.Parallel()
	cases := map[string]error{
		"ok":          nil,
		"invalid":     fmt.Errorf("wrap: %w", rag.ErrConfiguration),
		"unavailable": fmt.Errorf("wrap: %w", rag.ErrEmbeddingUnavailable),
		"error":       errors.New("boom"),
	}
	for want, err := range cases {
		if got := outcomeFor(err); got != want {
			t.Errorf("%v: want %q, got %q", err, want, got)
		}
	}
}

func TestMetrics_ObserveOperation(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := newServerMetrics(reg)

	m.observeOperation("context", nil, 20*time.Millisecond)
	m.observeOperation("context", nil, 30*time.Millisecond)

	if v := counterValue(t, reg, "prepai_api_operations_total", map[string]string{"operation": "context", "outcome": "ok"}); v != 2 {
		t.Errorf("want 2, got %v", v)
	}
}
