package router

import (
	"sync"
	"time"
)

const (
	rateLimitWindow = time.Second
	rateLimitBurst  = 10
)

// RateLimiter bounds command throughput per identity with a sliding window.
// Session transitions are human-paced; anything past the burst limit is a
// misbehaving client.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewRateLimiter creates an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: make(map[string][]time.Time)}
}

// Allow records an attempt for the identity and reports whether it is
// within the limit.
func (rl *RateLimiter) Allow(identityID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rateLimitWindow)

	window := rl.windows[identityID]
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= rateLimitBurst {
		rl.windows[identityID] = kept
		return false
	}

	rl.windows[identityID] = append(kept, now)
	return true
}

// Forget drops tracking state for an identity (connection closed).
func (rl *RateLimiter) Forget(identityID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.windows, identityID)
}
