// Package orchestrator ties the sync engine together: it estimates the
// dataset size, selects a fetch strategy, drives the concurrent fetch and
// retry layers through the cache, reconciles results against stored
// fingerprints, and returns a structured result.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/stacklok/content-sync/internal/cache"
	"github.com/stacklok/content-sync/internal/fetch"
	"github.com/stacklok/content-sync/internal/fingerprint"
	"github.com/stacklok/content-sync/internal/record"
	"github.com/stacklok/content-sync/internal/remote"
	"github.com/stacklok/content-sync/internal/retry"
)

// Condition types for sync errors
const (
	// ConditionSourceAvailable indicates whether the remote source is
	// available and accessible
	ConditionSourceAvailable = "SourceAvailable"

	// ConditionSyncSuccessful indicates whether the sync operation
	// succeeded
	ConditionSyncSuccessful = "SyncSuccessful"
)

// Condition reasons for sync errors
const (
	conditionReasonEstimationFailed = "EstimationFailed"
	conditionReasonFetchFailed      = "FetchFailed"
)

// Error represents a structured whole-operation sync failure with
// condition information for status reporting
type Error struct {
	Err             error
	Message         string
	ConditionType   string
	ConditionReason string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RecordMapping resolves a remote record id to its downstream local id.
// Owned by the downstream write-back system.
//
//go:generate mockgen -destination=mocks/mock_mapping.go -package=mocks -source=orchestrator.go RecordMapping
type RecordMapping interface {
	// GetLocalID returns the local id mapped to a remote record, or
	// found=false if the record has never been written downstream
	GetLocalID(remoteID string) (localID string, found bool)
}

// Options tune a single sync invocation
type Options struct {
	// MaxConcurrency caps in-flight detail requests; zero derives a cap
	// from a resource probe
	MaxConcurrency int

	// MaxRetries is the number of additional attempts per request
	MaxRetries int

	// BaseDelay is the initial retry backoff delay
	BaseDelay time.Duration

	// ForceDetail requests per-record detail even for strategies that
	// would normally skip it
	ForceDetail bool
}

// Stats aggregates per-run counters
type Stats struct {
	EstimatedTotal   int           `json:"estimated_total"`
	Strategy         string        `json:"strategy"`
	PagesFetched     int           `json:"pages_fetched"`
	Fetched          int           `json:"fetched"`
	New              int           `json:"new"`
	SkippedUnchanged int           `json:"skipped_unchanged"`
	Failed           int           `json:"failed"`
	CacheHits        int           `json:"cache_hits"`
	CacheMisses      int           `json:"cache_misses"`
	BytesSaved       int64         `json:"bytes_saved"`
	Elapsed          time.Duration `json:"elapsed"`
}

// Result is the outcome of a completed sync invocation
type Result struct {
	Records []*record.Record
	Stats   Stats
}

// Orchestrator coordinates a sync run across the cache, fetch, retry and
// fingerprint subsystems
type Orchestrator struct {
	client  remote.ContentClient
	cache   *cache.Cache
	tracker *fingerprint.Tracker
	fetcher *fetch.Fetcher
	mapping RecordMapping
}

// New creates an orchestrator with injected dependencies
func New(
	client remote.ContentClient,
	c *cache.Cache,
	tracker *fingerprint.Tracker,
	fetcher *fetch.Fetcher,
	mapping RecordMapping,
) *Orchestrator {
	return &Orchestrator{
		client:  client,
		cache:   c,
		tracker: tracker,
		fetcher: fetcher,
		mapping: mapping,
	}
}

// Sync runs one synchronization pass over a source. Partial failures are
// absorbed into Stats.Failed; only whole-operation failures (the source
// being unreachable or rejecting the estimate probe permanently) return an
// Error. Completed partial work is not rolled back: idempotent
// fingerprinting makes a retried sync safe.
func (o *Orchestrator) Sync(
	ctx context.Context, sourceID string, lastSyncTime string, filter record.Filter, opts Options,
) (*Result, *Error) {
	start := time.Now()
	stats := Stats{}

	if lastSyncTime != "" {
		filter.UpdatedAfter = lastSyncTime
	}

	// Estimating
	estimate, err := o.estimateSize(ctx, sourceID, filter, opts)
	if err != nil {
		if retry.Classify(err) == retry.ClassPermanent {
			return nil, &Error{
				Err:             err,
				Message:         fmt.Sprintf("Size estimation failed: %v", err),
				ConditionType:   ConditionSourceAvailable,
				ConditionReason: conditionReasonEstimationFailed,
			}
		}
		// Transient probe failure: fall back to a conservative default
		// rather than aborting the sync
		slog.Warn("Size estimation failed, using default estimate",
			"source", sourceID, "default", defaultEstimate, "error", err)
		estimate = defaultEstimate
	}
	stats.EstimatedTotal = estimate

	// StrategySelected
	plan := planFor(estimate, opts.ForceDetail)
	stats.Strategy = string(plan.Strategy)
	slog.Info("Selected fetch strategy",
		"source", sourceID, "strategy", plan.Strategy, "estimate", estimate)

	// Fetching
	records, syncErr := o.fetchRecords(ctx, sourceID, filter, plan, opts, &stats)
	if syncErr != nil {
		return nil, syncErr
	}
	stats.Fetched = len(records)

	// Reconciling
	kept := o.reconcile(ctx, records, &stats)

	// Completed
	stats.Elapsed = time.Since(start)
	slog.Info("Sync completed",
		"source", sourceID,
		"fetched", stats.Fetched,
		"returned", len(kept),
		"skipped_unchanged", stats.SkippedUnchanged,
		"failed", stats.Failed,
		"elapsed", stats.Elapsed)

	return &Result{Records: kept, Stats: stats}, nil
}

// fetchRecords retrieves all pages for the plan and hydrates detail where
// the plan calls for it
func (o *Orchestrator) fetchRecords(
	ctx context.Context,
	sourceID string,
	filter record.Filter,
	plan Plan,
	opts Options,
	stats *Stats,
) ([]*record.Record, *Error) {
	var records []*record.Record
	cursor := ""

	for {
		page, err := o.fetchPage(ctx, sourceID, filter, cursor, plan.PageSize, opts, stats)
		if err != nil {
			if len(records) == 0 {
				return nil, &Error{
					Err:             err,
					Message:         fmt.Sprintf("Fetch failed: %v", err),
					ConditionType:   ConditionSyncSuccessful,
					ConditionReason: conditionReasonFetchFailed,
				}
			}
			// Keep what we already have; the next sync picks up the rest
			slog.Warn("Page fetch failed mid-sweep, returning partial results",
				"source", sourceID, "error", err)
			stats.Failed++
			break
		}
		stats.PagesFetched++
		records = append(records, page.Records...)

		// Only the large strategy sweeps the full cursor pagination
		if plan.Strategy != StrategyLarge || page.NextCursor == nil {
			break
		}
		cursor = *page.NextCursor
	}

	if !plan.UseDetailFetch || len(records) == 0 {
		return records, nil
	}

	if plan.Strategy == StrategySmall {
		return o.hydrateConcurrently(ctx, records, opts, stats), nil
	}
	return o.hydrateBatch(ctx, records, opts, stats), nil
}

// fetchPage returns one collection page, consulting the cache before
// reaching the network
func (o *Orchestrator) fetchPage(
	ctx context.Context,
	sourceID string,
	filter record.Filter,
	cursor string,
	pageSize int,
	opts Options,
	stats *Stats,
) (*remote.QueryResult, error) {
	key := fmt.Sprintf("query:%s:%s:%s", sourceID, filter.Hash()[:16], cursor)

	if data, ok := o.cache.Get(ctx, key, cache.CategoryQueryResult); ok {
		var page remote.QueryResult
		if err := json.Unmarshal(data, &page); err == nil {
			stats.CacheHits++
			return &page, nil
		}
	}
	stats.CacheMisses++

	page, err := retry.WithRetry(ctx, func() (*remote.QueryResult, error) {
		return o.client.QueryCollection(ctx, sourceID, filter, cursor, pageSize)
	}, opts.MaxRetries, opts.BaseDelay)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(page); err == nil {
		_ = o.cache.Set(ctx, key, data, 0, cache.CategoryQueryResult)
	}
	return page, nil
}

// hydrateConcurrently replaces each record with its full detail, fetched
// under the concurrency cap. A failed detail fetch keeps the summary
// record and counts a failure; it never affects sibling requests.
func (o *Orchestrator) hydrateConcurrently(
	ctx context.Context, records []*record.Record, opts Options, stats *Stats,
) []*record.Record {
	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = fetch.OptimalConcurrency(0)
	}

	// Each goroutine writes only its own slot, so plain slices are safe
	cacheHits := make([]bool, len(records))

	requests := make([]fetch.Request, len(records))
	for i, rec := range records {
		requests[i] = fetch.Request{
			ID: rec.ID,
			Do: func(reqCtx context.Context) (any, error) {
				key := "record-detail:" + rec.ID
				if data, ok := o.cache.Get(reqCtx, key, cache.CategoryRecordDetail); ok {
					var detail record.Record
					if err := json.Unmarshal(data, &detail); err == nil {
						cacheHits[i] = true
						return &detail, nil
					}
				}

				detail, err := o.client.GetRecord(reqCtx, rec.ID)
				if err != nil {
					return nil, err
				}
				if data, err := json.Marshal(detail); err == nil {
					_ = o.cache.Set(reqCtx, key, data, 0, cache.CategoryRecordDetail)
				}
				return detail, nil
			},
		}
	}

	results := o.fetcher.ExecuteBatchWithRetry(ctx, requests, maxConcurrency, opts.MaxRetries, opts.BaseDelay)

	hydrated := make([]*record.Record, len(records))
	for i, result := range results {
		if cacheHits[i] {
			stats.CacheHits++
		} else {
			stats.CacheMisses++
		}
		if result.Err != nil {
			slog.Warn("Detail fetch failed, keeping summary record",
				"record_id", records[i].ID, "error", result.Err)
			stats.Failed++
			hydrated[i] = records[i]
			continue
		}
		hydrated[i] = result.Value.(*record.Record)
	}
	return hydrated
}

// hydrateBatch hydrates detail through the batch endpoint. Records that
// already exist downstream with an unchanged fingerprint are left as
// summaries: reconciliation drops them anyway, so refetching their detail
// would waste rate-limited requests. On failure the summary records are
// returned unchanged.
func (o *Orchestrator) hydrateBatch(
	ctx context.Context, records []*record.Record, opts Options, stats *Stats,
) []*record.Record {
	changes := o.tracker.BatchDetect(ctx, records, nil)

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if _, mapped := o.mapping.GetLocalID(rec.ID); mapped && !changes[rec.ID].Changed() {
			continue
		}
		ids = append(ids, rec.ID)
	}
	if len(ids) == 0 {
		return records
	}

	details, err := retry.WithRetry(ctx, func() (map[string]*record.Record, error) {
		return o.client.BatchGetRecords(ctx, ids)
	}, opts.MaxRetries, opts.BaseDelay)
	if err != nil {
		slog.Warn("Batch detail hydration failed, keeping summary records", "error", err)
		stats.Failed++
		return records
	}

	hydrated := make([]*record.Record, len(records))
	for i, rec := range records {
		if detail, ok := details[rec.ID]; ok {
			hydrated[i] = detail
		} else {
			hydrated[i] = rec
		}
	}
	return hydrated
}

// reconcile drops unchanged records that already have a downstream
// mapping. New records (no mapping) are always included, never skipped.
func (o *Orchestrator) reconcile(ctx context.Context, records []*record.Record, stats *Stats) []*record.Record {
	kept := make([]*record.Record, 0, len(records))
	for _, rec := range records {
		if _, found := o.mapping.GetLocalID(rec.ID); found {
			if o.tracker.ShouldSkip(ctx, rec, rec.ID) {
				stats.SkippedUnchanged++
				stats.BytesSaved += int64(rec.ApproximateSize())
				continue
			}
		} else {
			stats.New++
		}
		kept = append(kept, rec)
	}
	return kept
}
