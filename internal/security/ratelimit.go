package security

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per principal key
// (e.g. "sender:<channel>:<sender>"). Buckets are created on first use with
// a full burst.
type RateLimiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

// NewRateLimiter builds a limiter refilling rps tokens per second with the
// given burst capacity.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow charges one token from the principal's bucket, reporting whether it
// had capacity.
func (r *RateLimiter) Allow(principal string) bool {
	r.mu.Lock()
	b, ok := r.buckets[principal]
	if !ok {
		b = rate.NewLimiter(r.rps, r.burst)
		r.buckets[principal] = b
	}
	r.mu.Unlock()
	return b.Allow()
}
