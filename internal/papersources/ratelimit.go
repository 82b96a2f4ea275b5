// Package papersources provides rate-limited HTTP access to scholarly search APIs.
package papersources

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter wraps a token bucket limiter shared by every request to one API.
// It is safe for concurrent use because rate.Limiter is goroutine-safe.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a new rate limiter.
// ratePerSecond is the sustained rate and burst the number of tokens that
// can be consumed at once. Semantic Scholar without a key tolerates roughly
// NewRateLimiter(1, 1).
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// Wait blocks until a request is allowed or the context is canceled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow reports whether a request may happen now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// SetRate updates the sustained rate while preserving the burst size.
func (r *RateLimiter) SetRate(ratePerSecond float64) {
	r.limiter.SetLimit(rate.Limit(ratePerSecond))
}

// Limit returns the current sustained rate in requests per second.
func (r *RateLimiter) Limit() float64 {
	return float64(r.limiter.Limit())
}

// Tokens returns the current number of available tokens.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
