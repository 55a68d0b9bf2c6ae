package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/content-sync/internal/remote"
)

func TestExecuteBatchPreservesOrder(t *testing.T) {
	t.Parallel()

	f := New()
	requests := make([]Request, 10)
	for i := range requests {
		requests[i] = Request{
			ID: fmt.Sprintf("req-%d", i),
			Do: func(_ context.Context) (any, error) {
				return fmt.Sprintf("value-%d", i), nil
			},
		}
	}

	results := f.ExecuteBatch(context.Background(), requests, 4)

	require.Len(t, results, 10)
	for i, result := range results {
		assert.Equal(t, fmt.Sprintf("req-%d", i), result.ID)
		assert.Equal(t, fmt.Sprintf("value-%d", i), result.Value)
		assert.NoError(t, result.Err)
	}
}

func TestExecuteBatchFailureIsolation(t *testing.T) {
	t.Parallel()

	f := New()
	failErr := errors.New("request 3 exploded")
	requests := make([]Request, 5)
	for i := range requests {
		requests[i] = Request{
			ID: fmt.Sprintf("req-%d", i),
			Do: func(_ context.Context) (any, error) {
				if i == 2 {
					return nil, failErr
				}
				return i, nil
			},
		}
	}

	results := f.ExecuteBatch(context.Background(), requests, 2)

	require.Len(t, results, 5)
	for i, result := range results {
		if i == 2 {
			assert.ErrorIs(t, result.Err, failErr)
			continue
		}
		require.NoError(t, result.Err, "sibling request %d must not be affected", i)
		assert.Equal(t, i, result.Value)
	}
}

func TestExecuteBatchRespectsConcurrencyCap(t *testing.T) {
	t.Parallel()

	f := New()
	var inFlight, peak atomic.Int32

	requests := make([]Request, 20)
	for i := range requests {
		requests[i] = Request{
			ID: fmt.Sprintf("req-%d", i),
			Do: func(_ context.Context) (any, error) {
				current := inFlight.Add(1)
				defer inFlight.Add(-1)
				for {
					old := peak.Load()
					if current <= old || peak.CompareAndSwap(old, current) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				return nil, nil
			},
		}
	}

	f.ExecuteBatch(context.Background(), requests, 3)

	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestExecuteBatchCancelledContext(t *testing.T) {
	t.Parallel()

	f := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	requests := []Request{
		{ID: "a", Do: func(_ context.Context) (any, error) { return nil, nil }},
		{ID: "b", Do: func(_ context.Context) (any, error) { return nil, nil }},
	}

	results := f.ExecuteBatch(ctx, requests, 1)

	require.Len(t, results, 2)
	for _, result := range results {
		assert.Error(t, result.Err)
	}
}

func TestExecuteBatchWithRetryRetriesTransient(t *testing.T) {
	t.Parallel()

	f := New()
	var calls atomic.Int32
	requests := []Request{{
		ID: "flaky",
		Do: func(_ context.Context) (any, error) {
			if calls.Add(1) < 3 {
				return nil, remote.NewHTTPError(500, "http://api", "internal")
			}
			return "recovered", nil
		},
	}}

	results := f.ExecuteBatchWithRetry(context.Background(), requests, 1, 5, time.Millisecond)

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "recovered", results[0].Value)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecuteBatchWithRetryPermanentNotRetried(t *testing.T) {
	t.Parallel()

	f := New()
	var calls atomic.Int32
	requests := []Request{{
		ID: "denied",
		Do: func(_ context.Context) (any, error) {
			calls.Add(1)
			return nil, remote.NewHTTPError(403, "http://api", "forbidden")
		},
	}}

	results := f.ExecuteBatchWithRetry(context.Background(), requests, 1, 5, time.Millisecond)

	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecuteBatchEmpty(t *testing.T) {
	t.Parallel()

	f := New()
	results := f.ExecuteBatch(context.Background(), nil, 4)
	assert.Empty(t, results)
}

func TestOptimalConcurrency(t *testing.T) {
	t.Parallel()

	t.Run("within bounds", func(t *testing.T) {
		t.Parallel()
		n := OptimalConcurrency(0)
		assert.GreaterOrEqual(t, n, MinConcurrency)
		assert.LessOrEqual(t, n, MaxConcurrency)
	})

	t.Run("ceiling bounds the result", func(t *testing.T) {
		t.Parallel()
		assert.LessOrEqual(t, OptimalConcurrency(2), 2)
	})

	t.Run("ceiling above cap is ignored", func(t *testing.T) {
		t.Parallel()
		assert.LessOrEqual(t, OptimalConcurrency(100), MaxConcurrency)
	})
}
