package retry

import (
	"context"
	"errors"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/content-sync/internal/remote"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil error", nil, ClassUnknown},
		{"400 bad request", remote.NewHTTPError(400, "http://api", "bad request"), ClassPermanent},
		{"401 unauthorized", remote.NewHTTPError(401, "http://api", "unauthorized"), ClassPermanent},
		{"403 forbidden", remote.NewHTTPError(403, "http://api", "forbidden"), ClassPermanent},
		{"404 not found", remote.NewHTTPError(404, "http://api", "not found"), ClassPermanent},
		{"429 rate limited", remote.NewHTTPError(429, "http://api", "too many requests"), ClassTransient},
		{"500 server error", remote.NewHTTPError(500, "http://api", "internal"), ClassTransient},
		{"503 unavailable", remote.NewHTTPError(503, "http://api", "unavailable"), ClassTransient},
		{"418 unclassified status", remote.NewHTTPError(418, "http://api", "teapot"), ClassUnknown},
		{"wrapped http error", errors.Join(errors.New("request failed"), remote.NewHTTPError(401, "http://api", "no")), ClassPermanent},
		{"url parse error", &url.Error{Op: "parse", URL: "://bad", Err: errors.New("missing scheme")}, ClassPermanent},
		{"deadline exceeded", context.DeadlineExceeded, ClassTransient},
		{"connection reset", syscall.ECONNRESET, ClassTransient},
		{"connection refused", syscall.ECONNREFUSED, ClassTransient},
		{"context canceled", context.Canceled, ClassPermanent},
		{"unrecognized error", errors.New("something odd"), ClassUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRetryable(remote.NewHTTPError(500, "http://api", "internal")))
	assert.True(t, IsRetryable(errors.New("unknown errors default to retryable")))
	assert.False(t, IsRetryable(remote.NewHTTPError(404, "http://api", "not found")))
}

func TestNextDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		attempt   int
		baseDelay time.Duration
		want      time.Duration
	}{
		{"first retry uses base delay", 1, time.Second, time.Second},
		{"second retry doubles", 2, time.Second, 2 * time.Second},
		{"third retry doubles again", 3, time.Second, 4 * time.Second},
		{"capped at max delay", 10, time.Second, MaxDelay},
		{"zero attempt treated as first", 0, time.Second, time.Second},
		{"zero base uses default", 1, 0, DefaultBaseDelay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NextDelay(tt.attempt, tt.baseDelay))
		})
	}
}

func TestWithRetryTransientExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := WithRetry(context.Background(), func() (string, error) {
		calls++
		return "", remote.NewHTTPError(503, "http://api", "unavailable")
	}, 3, time.Millisecond)

	require.Error(t, err)
	// Exactly the initial attempt plus maxRetries, never more
	assert.Equal(t, 4, calls)
}

func TestWithRetryPermanentFailsImmediately(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := WithRetry(context.Background(), func() (string, error) {
		calls++
		return "", remote.NewHTTPError(401, "http://api", "unauthorized")
	}, 5, time.Millisecond)

	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var httpErr *remote.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 401, httpErr.StatusCode)
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	result, err := WithRetry(context.Background(), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, remote.NewHTTPError(500, "http://api", "internal")
		}
		return 42, nil
	}, 5, time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestWithRetryNoRetriesOnSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	result, err := WithRetry(context.Background(), func() (string, error) {
		calls++
		return "ok", nil
	}, 3, time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestWithRetryZeroRetriesSingleAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := WithRetry(context.Background(), func() (string, error) {
		calls++
		return "", remote.NewHTTPError(500, "http://api", "internal")
	}, 0, time.Millisecond)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
