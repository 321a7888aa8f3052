package ratelimit

import (
	"sync"
	"time"
)

// Registry holds one Bucket per key (typically a client IP), creating
// buckets lazily and evicting ones that have gone idle. The Admin API's
// per-client limiter is the separate api.RateLimiter, not a Registry;
// the per-tunnel bucket used at the proxy edge is a single Bucket owned
// by the Tunnel.
type Registry struct {
	mu              sync.RWMutex
	buckets         map[string]*entry
	refillRate      float64
	maxTokens       float64
	cleanupInterval time.Duration
}

type entry struct {
	bucket     *Bucket
	lastSeen   time.Time
	lastSeenMu sync.Mutex
}

// NewRegistry creates a Registry and starts its background eviction loop.
// The eviction loop runs for the lifetime of the process; Registry is
// meant to be constructed once at startup.
func NewRegistry(refillRate, maxTokens float64, cleanupInterval time.Duration) *Registry {
	if refillRate <= 0 {
		refillRate = 10.0
	}
	if maxTokens <= 0 {
		maxTokens = 20.0
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}

	r := &Registry{
		buckets:         make(map[string]*entry),
		refillRate:      refillRate,
		maxTokens:       maxTokens,
		cleanupInterval: cleanupInterval,
	}
	go r.cleanupLoop()
	return r
}

// Allow checks and consumes a token for key, creating its bucket on
// first use.
func (r *Registry) Allow(key string) bool {
	e := r.getEntry(key)
	e.lastSeenMu.Lock()
	e.lastSeen = time.Now()
	e.lastSeenMu.Unlock()
	return e.bucket.Allow()
}

func (r *Registry) getEntry(key string) *entry {
	r.mu.RLock()
	e, ok := r.buckets[key]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.buckets[key]; ok {
		return e
	}
	e = &entry{bucket: New(r.refillRate, r.maxTokens), lastSeen: time.Now()}
	r.buckets[key] = e
	return e
}

func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		r.cleanup()
	}
}

func (r *Registry) cleanup() {
	cutoff := time.Now().Add(-r.cleanupInterval)

	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.buckets {
		e.lastSeenMu.Lock()
		stale := e.lastSeen.Before(cutoff)
		e.lastSeenMu.Unlock()
		if stale {
			delete(r.buckets, key)
		}
	}
}

// Len reports the number of tracked keys, for tests.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buckets)
}
