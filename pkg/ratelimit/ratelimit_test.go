package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllowEnforcesBurst(t *testing.T) {
	l := NewLimiter(1, 2)

	if !l.Allow("client-a") {
		t.Fatal("first request should be allowed")
	}
	if !l.Allow("client-a") {
		t.Fatal("second request within burst should be allowed")
	}
	if l.Allow("client-a") {
		t.Error("third request should exceed burst")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := NewLimiter(1, 1)

	if !l.Allow("client-a") {
		t.Fatal("client-a first request should be allowed")
	}
	if !l.Allow("client-b") {
		t.Error("client-b should have its own budget")
	}
}

func TestMiddlewareRejectsWithTooManyRequests(t *testing.T) {
	l := NewLimiter(1, 1)
	handler := l.Middleware(IPKeyFunc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.RemoteAddr = "10.0.0.1:4000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}

func TestCleanupOldLimiters(t *testing.T) {
	l := NewLimiter(1, 1)
	l.Allow("stale")

	l.CleanupOldLimiters(0)

	l.mu.Lock()
	_, exists := l.limiters["stale"]
	l.mu.Unlock()
	if exists {
		t.Error("stale limiter should have been removed")
	}
}

func TestIPKeyFuncPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")

	if got := IPKeyFunc(req); got != "203.0.113.7" {
		t.Errorf("IPKeyFunc() = %q, want %q", got, "203.0.113.7")
	}

	req.Header.Del("X-Forwarded-For")
	if got := IPKeyFunc(req); got != "10.0.0.1" {
		t.Errorf("IPKeyFunc() = %q, want %q", got, "10.0.0.1")
	}
}

func TestIPKeyFuncSharedAcrossConnections(t *testing.T) {
	// A client that opens a new TCP connection per request shows up with
	// a fresh ephemeral port each time; it must still hit one bucket.
	l := NewLimiter(1, 1)
	handler := l.Middleware(IPKeyFunc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want %d", rec.Code, http.StatusOK)
	}

	req = httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.RemoteAddr = "10.0.0.1:59321"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("same host on a new port: status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}

func TestAllowRefillsOverTime(t *testing.T) {
	l := NewLimiter(100, 1)

	if !l.Allow("client") {
		t.Fatal("first request should be allowed")
	}
	if l.Allow("client") {
		t.Fatal("second immediate request should be denied")
	}

	time.Sleep(20 * time.Millisecond)
	if !l.Allow("client") {
		t.Error("request after refill interval should be allowed")
	}
}
