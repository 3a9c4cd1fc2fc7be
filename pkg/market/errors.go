package market

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrSymbolNotFound marks a ticker that validated against no upstream
// candidate. Permanent for the given input; retrying is pointless.
var ErrSymbolNotFound = errors.New("symbol not found")

// ErrThrottled marks a fetch skipped because the per-symbol minimum spacing
// has not elapsed. Transient and expected; callers count it, not fail on it.
var ErrThrottled = errors.New("fetch throttled")

// StatusError carries a non-2xx upstream response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

// IsRateLimit reports whether err is an upstream rate-limit signal.
func IsRateLimit(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Status == http.StatusTooManyRequests
}

// IsRetryable classifies err for the retry policy. Not-found and throttle
// sentinels are never retried; HTTP statuses retry on 429 and 5xx; everything
// else is treated as a transient transport failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSymbolNotFound) || errors.Is(err, ErrThrottled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == http.StatusTooManyRequests || statusErr.Status >= 500
	}
	return true
}
