package orchestrator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stacklok/content-sync/internal/cache"
	"github.com/stacklok/content-sync/internal/record"
	"github.com/stacklok/content-sync/internal/remote"
	"github.com/stacklok/content-sync/internal/retry"
)

// Strategy is the pagination/detail-fetch approach chosen from the
// estimated dataset size
type Strategy string

const (
	// StrategySmall fetches the collection plus full per-record detail
	StrategySmall Strategy = "small"

	// StrategyMedium fetches a single page with optional batch detail
	// hydration
	StrategyMedium Strategy = "medium"

	// StrategyLarge sweeps the full cursor pagination without per-record
	// detail unless explicitly requested
	StrategyLarge Strategy = "large"
)

const (
	// smallThreshold is the upper estimate bound for the small strategy
	smallThreshold = 100

	// largeThreshold is the estimate bound above which the large
	// strategy is used
	largeThreshold = 1000

	// samplePageSize is the page size of the estimation probe
	samplePageSize = 10

	// sampleMultiplier extrapolates a rough total when the sample page
	// indicates more pages exist
	sampleMultiplier = 25

	// defaultEstimate is the conservative fallback when the size probe
	// fails transiently
	defaultEstimate = 500

	// defaultPageSize is the page size for regular collection fetches
	defaultPageSize = 100
)

// Plan is derived once per sync call and never mutated afterward
type Plan struct {
	Strategy       Strategy
	PageSize       int
	UseDetailFetch bool
}

// planFor selects the fetch plan from the size estimate
func planFor(estimate int, forceDetail bool) Plan {
	switch {
	case estimate > largeThreshold:
		return Plan{Strategy: StrategyLarge, PageSize: defaultPageSize, UseDetailFetch: forceDetail}
	case estimate > smallThreshold:
		return Plan{Strategy: StrategyMedium, PageSize: defaultPageSize, UseDetailFetch: forceDetail}
	default:
		return Plan{Strategy: StrategySmall, PageSize: defaultPageSize, UseDetailFetch: true}
	}
}

// estimateSize issues a small sample query, memoized through the cache so
// repeated syncs of the same source and filter skip the probe entirely.
func (o *Orchestrator) estimateSize(
	ctx context.Context, sourceID string, filter record.Filter, opts Options,
) (int, error) {
	key := "size-estimate:" + sourceID + ":" + filter.Hash()[:16]

	if cached, ok := o.cache.Get(ctx, key, cache.CategorySizeEstimate); ok {
		if estimate, err := strconv.Atoi(string(cached)); err == nil {
			return estimate, nil
		}
	}

	page, err := retry.WithRetry(ctx, func() (*remote.QueryResult, error) {
		return o.client.QueryCollection(ctx, sourceID, filter, "", samplePageSize)
	}, opts.MaxRetries, opts.BaseDelay)
	if err != nil {
		return 0, fmt.Errorf("size estimation query failed: %w", err)
	}

	estimate := len(page.Records)
	if page.NextCursor != nil {
		// More pages exist: extrapolate a rough total
		estimate = len(page.Records) * sampleMultiplier
	}

	_ = o.cache.Set(ctx, key, []byte(strconv.Itoa(estimate)), 0, cache.CategorySizeEstimate)

	return estimate, nil
}
