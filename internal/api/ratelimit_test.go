package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimiterAllowsBurstThenBlocks(t *testing.T) {
	rl := NewRateLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow("client-a") {
			t.Fatalf("request %d within burst should be allowed", i)
		}
	}
	if rl.Allow("client-a") {
		t.Fatal("request beyond burst should be blocked")
	}
}

func TestRateLimiterTracksClientsIndependently(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	if !rl.Allow("client-a") {
		t.Fatal("first request for client-a should be allowed")
	}
	if !rl.Allow("client-b") {
		t.Fatal("client-b should have its own independent bucket")
	}
}

func TestRateLimiterMiddlewareRejectsWithRetryAfter(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	mw := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/tunnels", nil)
	r.RemoteAddr = "10.0.0.1:1234"

	w1 := httptest.NewRecorder()
	mw.ServeHTTP(w1, r)
	if w1.Code != http.StatusOK {
		t.Fatalf("first request got status %d want 200", w1.Code)
	}

	w2 := httptest.NewRecorder()
	mw.ServeHTTP(w2, r)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request got status %d want 429", w2.Code)
	}
	if w2.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on rate-limited response")
	}
}

func TestClientIDUsesForwardedIPWhenUnauthenticated(t *testing.T) {
	rl := NewRateLimiter(10, 20)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	r.RemoteAddr = "10.0.0.1:1234"

	if got := rl.clientID(r); got != "203.0.113.9" {
		t.Fatalf("got %q want forwarded IP when unauthenticated", got)
	}
}
