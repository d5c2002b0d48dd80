// Package ratelimiter throttles repetitive events such as access denial log
// lines, so a misbehaving client cannot flood the log.
package ratelimiter

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket that remembers how many events it dropped.
//
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
	dropped atomic.Uint64
}

// New creates a limiter admitting eventsPerSecond on average with bursts of
// up to burst events. A zero rate disables limiting.
func New(eventsPerSecond float64, burst int) *RateLimiter {
	limit := rate.Limit(eventsPerSecond)
	if eventsPerSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// Allow reports whether an event may proceed. When it may, Allow also
// returns the number of events dropped since the previous admitted one and
// resets that count.
func (r *RateLimiter) Allow() (bool, uint64) {
	if !r.limiter.Allow() {
		r.dropped.Add(1)
		return false, 0
	}
	return true, r.dropped.Swap(0)
}

// Dropped returns the number of events dropped since the last admitted one.
func (r *RateLimiter) Dropped() uint64 {
	return r.dropped.Load()
}
