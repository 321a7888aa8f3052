// Package ratelimit implements the token-bucket admission gate used
// per-tunnel (at the proxy), plus a keyed pool of buckets (Registry).
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a single token bucket. All fields are guarded by mu; the zero
// value is not usable, construct with New.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

// New creates a bucket starting full, refilling at refillRate tokens/sec
// up to a maximum of maxTokens.
func New(refillRate, maxTokens float64) *Bucket {
	return &Bucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow performs the lazy-refill token bucket check: refill for elapsed
// time, then consume one token if available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1.0 {
		b.tokens--
		return true
	}
	return false
}

// Tokens reports the current token count, for tests and diagnostics.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}
