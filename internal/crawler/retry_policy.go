package crawler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// ErrParse marks a non-network failure; such errors are never retried.
var ErrParse = errors.New("parse failed")

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// ExponentialRetryPolicy decides retries purely from the attempt number.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy allowing maxAttempts total attempts
// and waiting baseDelay*2^attempt between them. A zero baseDelay means one
// second.
func NewExponentialRetryPolicy(maxAttempts int, baseDelay time.Duration) *ExponentialRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    5 * time.Minute,
	}
}

// MaxAttempts returns the total attempt cap.
func (p *ExponentialRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Decide reports whether another attempt should follow the given completed
// attempt (1-based) and how long to wait before it.
func (p *ExponentialRetryPolicy) Decide(attempt int) (bool, time.Duration) {
	if attempt >= p.maxAttempts {
		return false, 0
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return true, time.Duration(delay)
}

// IsRetryable classifies an error as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrParse) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests ||
			statusErr.StatusCode == http.StatusRequestTimeout ||
			statusErr.StatusCode >= http.StatusInternalServerError
	}
	// Timeouts, resets and other transport failures are transient.
	return true
}
