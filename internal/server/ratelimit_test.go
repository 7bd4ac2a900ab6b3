package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// post sends a POST from remoteAddr through h.
func post(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/index", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_BurstThenReject(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 3, discardLogger())
	defer stop()
	h := rl.middleware(okHandler)

	for i := range 3 {
		if w := post(h, "10.0.0.1:9999"); w.Code != http.StatusOK {
			t.Fatalf("request %d: want 200, got %d", i, w.Code)
		}
	}
	w := post(h, "10.0.0.1:9999")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("want 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("want Retry-After 1, got %q", w.Header().Get("Retry-After"))
	}
	if body := decodeBody[errorResponse](t, w); body.Error != "rate limit exceeded" {
		t.Errorf("want rate limit error body, got %q", body.Error)
	}
}

func TestRateLimiter_PerIPIsolation(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 1, discardLogger())
	defer stop()
	h := rl.middleware(okHandler)

	post(h, "192.168.1.1:1111")
	if w := post(h, "192.168.1.1:1111"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("IP A: want 429, got %d", w.Code)
	}
	if w := post(h, "192.168.1.2:2222"); w.Code != http.StatusOK {
		t.Errorf("IP B: want 200, got %d", w.Code)
	}
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(1, 1, discardLogger())
	defer stop()
	clock := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return clock }

	if !rl.allow("a") {
		t.Fatal("first request: want allowed")
	}
	if rl.allow("a") {
		t.Fatal("second request: want rejected")
	}
	clock = clock.Add(time.Second)
	if !rl.allow("a") {
		t.Error("after one second: want allowed")
	}
}

func TestRateLimiter_SweepDropsIdle(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(10, 10, discardLogger())
	defer stop()
	clock := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return clock }

	rl.allow("old")
	clock = clock.Add(limiterIdleTTL - time.Second)
	rl.allow("fresh")
	clock = clock.Add(2 * time.Second)

	if n := rl.sweep(); n != 1 {
		t.Fatalf("want 1 bucket after sweep, got %d", n)
	}
	if _, ok := rl.buckets["fresh"]; !ok {
		t.Error("want fresh bucket kept")
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	_, stop := newRateLimiter(1, 1, discardLogger())
	stop()
	stop()
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		remoteAddr string
		want       string
	}{
		{"127.0.0.1:54321", "127.0.0.1"},
		{"[::1]:8080", "::1"},
		{"::1:8080", "::1"},
		{"noport", "noport"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		if got := clientIP(req); got != tc.want {
			t.Errorf("remoteAddr=%q: want %q, got %q", tc.remoteAddr, tc.want, got)
		}
	}
}
