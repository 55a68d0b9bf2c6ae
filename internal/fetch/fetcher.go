// Package fetch executes batches of outbound requests under a concurrency cap.
package fetch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/stacklok/content-sync/internal/retry"
)

const (
	// DefaultRequestTimeout bounds each individual request
	DefaultRequestTimeout = 30 * time.Second
)

// Request is a single unit of outbound work
type Request struct {
	// ID identifies the request in logs and results
	ID string

	// Do performs the request. It must honor ctx cancellation.
	Do func(ctx context.Context) (any, error)
}

// Result is the outcome of one request. Exactly one of Value and Err is
// meaningful; results are returned in submission order.
type Result struct {
	ID    string
	Value any
	Err   error
}

// Fetcher dispatches batches of requests with bounded concurrency.
// One failing request never cancels or blocks its siblings.
type Fetcher struct {
	requestTimeout time.Duration
}

// Option configures the fetcher
type Option func(*Fetcher)

// WithRequestTimeout overrides the per-request timeout
func WithRequestTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) {
		f.requestTimeout = timeout
	}
}

// New creates a new Fetcher
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ExecuteBatch runs up to maxConcurrency requests in flight at once,
// starting the next queued request as each completes. The returned slice
// has one entry per request, in submission order.
func (f *Fetcher) ExecuteBatch(ctx context.Context, requests []Request, maxConcurrency int) []Result {
	return f.execute(ctx, requests, maxConcurrency, func(reqCtx context.Context, req Request) (any, error) {
		return req.Do(reqCtx)
	})
}

// ExecuteBatchWithRetry behaves like ExecuteBatch, but wraps each
// individual request in a classified retry loop.
func (f *Fetcher) ExecuteBatchWithRetry(
	ctx context.Context, requests []Request, maxConcurrency, maxRetries int, baseDelay time.Duration,
) []Result {
	return f.execute(ctx, requests, maxConcurrency, func(reqCtx context.Context, req Request) (any, error) {
		return retry.WithRetry(reqCtx, func() (any, error) {
			return req.Do(reqCtx)
		}, maxRetries, baseDelay)
	})
}

// execute fans requests out over a weighted semaphore and writes each
// outcome to its pre-allocated slot, preserving submission order.
func (f *Fetcher) execute(
	ctx context.Context,
	requests []Request,
	maxConcurrency int,
	run func(ctx context.Context, req Request) (any, error),
) []Result {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	results := make([]Result, len(requests))
	sem := semaphore.NewWeighted(int64(maxConcurrency))
	var wg sync.WaitGroup

	for i, req := range requests {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled: mark this and all remaining slots
			for j := i; j < len(requests); j++ {
				results[j] = Result{ID: requests[j].ID, Err: err}
			}
			break
		}

		wg.Add(1)
		go func(idx int, req Request) {
			defer wg.Done()
			defer sem.Release(1)

			reqCtx, cancel := context.WithTimeout(ctx, f.requestTimeout)
			defer cancel()

			value, err := run(reqCtx, req)
			results[idx] = Result{ID: req.ID, Value: value, Err: err}
		}(i, req)
	}

	wg.Wait()
	return results
}
