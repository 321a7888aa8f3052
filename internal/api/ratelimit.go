package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter is a per-client token bucket guarding the Admin API
// surface, distinct from the per-tunnel bucket in internal/ratelimit
// that guards proxied traffic.
type RateLimiter struct {
	requestsPerSecond float64
	burstSize         float64
	clients           map[string]*clientBucket
	mu                sync.Mutex
	cleanupInterval   time.Duration
}

type clientBucket struct {
	mu          sync.Mutex
	tokens      float64
	lastUpdated time.Time
}

func NewRateLimiter(requestsPerSecond float64, burstSize int) *RateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	if burstSize <= 0 {
		burstSize = 20
	}
	rl := &RateLimiter{
		requestsPerSecond: requestsPerSecond,
		burstSize:         float64(burstSize),
		clients:           make(map[string]*clientBucket),
		cleanupInterval:   5 * time.Minute,
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) Allow(clientID string) bool {
	bucket := rl.bucketFor(clientID)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(bucket.lastUpdated).Seconds()
	bucket.tokens += elapsed * rl.requestsPerSecond
	if bucket.tokens > rl.burstSize {
		bucket.tokens = rl.burstSize
	}
	bucket.lastUpdated = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) bucketFor(clientID string) *clientBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.clients[clientID]
	if !ok {
		b = &clientBucket{tokens: rl.burstSize, lastUpdated: time.Now()}
		rl.clients[clientID] = b
	}
	return b
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		rl.cleanup()
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-rl.cleanupInterval)
	for id, b := range rl.clients {
		b.mu.Lock()
		stale := b.lastUpdated.Before(cutoff)
		b.mu.Unlock()
		if stale {
			delete(rl.clients, id)
		}
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.clientID(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, newAPIError(ErrCodeRateLimit, "rate limit exceeded, try again later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) clientID(r *http.Request) string {
	if id, ok := identityFromContext(r.Context()); ok {
		return id.UserID
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
