// Package retry classifies request failures and wraps operations with
// bounded exponential-backoff retries.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/content-sync/internal/remote"
)

const (
	// DefaultBaseDelay is the initial backoff delay between attempts
	DefaultBaseDelay = 500 * time.Millisecond

	// MaxDelay caps the computed backoff delay
	MaxDelay = 30 * time.Second
)

// Class is the retryability classification of an error
type Class int

const (
	// ClassUnknown means the error could not be classified; treated as
	// transient since a bounded retry is safer than dropping data
	ClassUnknown Class = iota

	// ClassTransient means the error is worth retrying
	ClassTransient

	// ClassPermanent means retrying will not succeed
	ClassPermanent
)

// String returns the class name for logging
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classify determines whether an error is permanent or transient.
//
// Permanent: authentication/authorization failures (401/403), malformed
// requests (400, invalid URL), not-found (404). Transient: timeouts,
// connection resets, rate limits (429), 5xx. Anything else is Unknown.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	var httpErr *remote.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusBadRequest,
			httpErr.StatusCode == http.StatusUnauthorized,
			httpErr.StatusCode == http.StatusForbidden,
			httpErr.StatusCode == http.StatusNotFound:
			return ClassPermanent
		case httpErr.StatusCode == http.StatusTooManyRequests,
			httpErr.StatusCode >= 500:
			return ClassTransient
		default:
			return ClassUnknown
		}
	}

	// A malformed URL will never succeed
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return ClassPermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return ClassTransient
	}

	// Caller-initiated cancellation is not worth retrying
	if errors.Is(err, context.Canceled) {
		return ClassPermanent
	}

	return ClassUnknown
}

// IsRetryable reports whether an error should be retried. Unknown errors
// default to retryable.
func IsRetryable(err error) bool {
	return Classify(err) != ClassPermanent
}

// NextDelay computes the backoff delay before the given attempt.
// attempt is 1-based: the delay before the first retry is baseDelay.
func NextDelay(attempt int, baseDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}

	delay := baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= MaxDelay {
			return MaxDelay
		}
	}
	if delay > MaxDelay {
		return MaxDelay
	}
	return delay
}

// WithRetry invokes fn, retrying transient failures with exponential
// backoff up to maxRetries additional times. Permanent failures return
// immediately without retrying. On exhausting retries the last error is
// returned.
func WithRetry[T any](
	ctx context.Context, fn func() (T, error), maxRetries int, baseDelay time.Duration,
) (T, error) {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	operation := func() (T, error) {
		result, err := fn()
		if err != nil && Classify(err) == ClassPermanent {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = baseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = MaxDelay

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(maxRetries+1)), //nolint:gosec // maxRetries is clamped non-negative above
	)
}
