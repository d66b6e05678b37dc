package papersources

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// minRateDivisor bounds how far Throttle may lower the rate below the
// configured one.
const minRateDivisor = 8

// RateLimiter is a token bucket that slows down after upstream rate-limit
// responses and returns to its configured rate once requests succeed again.
// It is safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
	base    rate.Limit

	mu        sync.Mutex
	throttled bool
}

// NewRateLimiter creates a new rate limiter.
// ratePerSecond is the sustained rate; burst is the bucket size.
//
// Example configurations:
//   - arXiv: NewRateLimiter(0.3, 1) for one request every three seconds
//   - OpenAlex: NewRateLimiter(10, 10) for the polite pool
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	base := rate.Limit(ratePerSecond)
	return &RateLimiter{
		limiter: rate.NewLimiter(base, burst),
		base:    base,
	}
}

// Wait blocks until a request is allowed or the context is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow reports whether a request may proceed now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Throttle halves the current rate, never going below base/minRateDivisor.
// It returns the new rate.
func (r *RateLimiter) Throttle() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.limiter.Limit() / 2
	if floor := r.base / minRateDivisor; next < floor {
		next = floor
	}
	r.limiter.SetLimit(next)
	r.throttled = true
	return float64(next)
}

// Recover restores the configured rate after a throttle. It is a no-op when
// the limiter is not throttled.
func (r *RateLimiter) Recover() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.throttled {
		return
	}
	r.limiter.SetLimit(r.base)
	r.throttled = false
}

// Rate returns the current sustained rate in requests per second.
func (r *RateLimiter) Rate() float64 {
	return float64(r.limiter.Limit())
}
