// Package ratelimit provides the per-tenant token bucket used by the recompute and rollup
// processors.
//
// Each tenant gets its own bucket, created full on first use and refilled continuously at
// the configured rate up to the burst capacity. Buckets live in process memory only: two
// worker processes sharing one broker each enforce the limit independently.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter manages per-tenant token buckets.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter refilling tokensPerSecond up to burst tokens per tenant.
func New(tokensPerSecond float64, burst int) *RateLimiter {
	return NewWithClock(tokensPerSecond, burst, time.Now)
}

// NewWithClock creates a limiter with a custom clock. Used by tests.
func NewWithClock(tokensPerSecond float64, burst int, now func() time.Time) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(tokensPerSecond),
		burst:   burst,
		now:     now,
	}
}

// TryConsume takes one token from the tenant's bucket, reporting whether one was available.
func (rl *RateLimiter) TryConsume(tenantID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[tenantID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[tenantID] = b
	}
	b.lastSeen = now

	return b.limiter.AllowN(now, 1)
}

// PruneStale drops buckets untouched for maxAge or longer and returns how many were removed.
// A pruned tenant starts again with a full bucket.
func (rl *RateLimiter) PruneStale(maxAge time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for tenantID, b := range rl.buckets {
		if now.Sub(b.lastSeen) >= maxAge {
			delete(rl.buckets, tenantID)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
