// Package retry provides a small bounded-backoff policy for upstream calls.
// Rate-limit errors get a distinctly longer, flat wait than generic transient
// errors: the two failure classes have different recovery time characteristics
// and conflating them causes repeated self-inflicted throttling.
package retry

import (
	"context"
	"math"
	"time"
)

const (
	defaultInitialBackoff   = 500 * time.Millisecond
	defaultMaxBackoff       = 8 * time.Second
	defaultBackoffFactor    = 2.0
	defaultRateLimitBackoff = 20 * time.Second
)

// Policy encapsulates bounded retry settings.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// InitialBackoff is the wait after the first generic failure; it grows by
	// Multiplier up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// RateLimitBackoff is the flat wait applied when IsRateLimit(err) is true.
	RateLimitBackoff time.Duration

	// IsRetryable decides whether an error is worth another attempt. A nil
	// predicate retries every error.
	IsRetryable func(error) bool
	// IsRateLimit distinguishes rate-limit signals from generic failures.
	// A nil predicate classifies nothing as a rate limit.
	IsRateLimit func(error) bool
}

// New returns a Policy with defaults filled in.
func New(p Policy) Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultInitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	if p.Multiplier <= 1 {
		p.Multiplier = defaultBackoffFactor
	}
	if p.RateLimitBackoff <= 0 {
		p.RateLimitBackoff = defaultRateLimitBackoff
	}
	return p
}

// Do executes fn until it succeeds, exhausts the attempt budget, or hits a
// non-retryable error. The last error is returned on failure.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	backoff := p.InitialBackoff
	var lastErr error

	for attempt := 1; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt >= p.MaxAttempts {
			return lastErr
		}
		if p.IsRetryable != nil && !p.IsRetryable(lastErr) {
			return lastErr
		}

		wait := backoff
		if p.IsRateLimit != nil && p.IsRateLimit(lastErr) {
			wait = p.RateLimitBackoff
		} else {
			backoff = time.Duration(math.Min(
				float64(p.MaxBackoff),
				float64(backoff)*p.Multiplier,
			))
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
