// Package ratelimit enforces per-agent, per-operation token buckets.
// Buckets are independent: one agent exhausting its budget never blocks
// another, and no global lock is held while waiting.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Registry hands out a token bucket per (agent, operation) key.
type Registry struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

// New creates a Registry allowing perMinute sustained operations with the
// given burst per key.
func New(perMinute, burst int) *Registry {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &Registry{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
	}
}

// Allow reports whether the agent may perform the operation now.
func (r *Registry) Allow(agentID, op string) bool {
	key := agentID + "\x00" + op
	r.mu.Lock()
	l, ok := r.buckets[key]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.buckets[key] = l
	}
	r.mu.Unlock()
	return l.Allow()
}
