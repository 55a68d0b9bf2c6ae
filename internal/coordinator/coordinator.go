// Package coordinator manages background synchronization scheduling and
// execution for all configured sources.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/stacklok/content-sync/internal/cache"
	"github.com/stacklok/content-sync/internal/config"
	"github.com/stacklok/content-sync/internal/orchestrator"
	"github.com/stacklok/content-sync/internal/queue"
	"github.com/stacklok/content-sync/internal/record"
	"github.com/stacklok/content-sync/internal/status"
	"github.com/stacklok/content-sync/internal/telemetry"
)

const (
	// basePollingInterval is the base interval at which the coordinator checks for sync jobs
	basePollingInterval = 1 * time.Minute
	// pollingJitter is the maximum random offset (±15 seconds) applied to the polling interval
	pollingJitter = 15 * time.Second
)

// ErrUnknownSource is returned when a sync is requested for a source id
// that is not configured
var ErrUnknownSource = errors.New("unknown source")

// Coordinator manages background sync scheduling for all sources
type Coordinator interface {
	// Start begins background sync coordination for all sources.
	// Blocks until context is cancelled or an unrecoverable error occurs.
	Start(ctx context.Context) error

	// Stop gracefully stops the coordinator
	Stop() error

	// TriggerSync runs a sync for one source immediately, bypassing the
	// interval check
	TriggerSync(ctx context.Context, sourceID string) (*orchestrator.Result, error)

	// SyncStatuses returns the current per-source sync statuses
	SyncStatuses(ctx context.Context) (map[string]*status.SyncStatus, error)
}

// defaultCoordinator is the default implementation of Coordinator
type defaultCoordinator struct {
	orch       *orchestrator.Orchestrator
	stateSvc   StateService
	config     *config.Config
	syncOpts   orchestrator.Options
	retryQueue *queue.Queue

	// Lifecycle management
	cancelFunc context.CancelFunc
	done       chan struct{}

	// Metrics
	syncMetrics  *telemetry.SyncMetrics
	cacheMetrics *telemetry.CacheMetrics
	cacheRef     *cache.Cache
	queueMetrics *telemetry.QueueMetrics
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithSyncMetrics sets the sync metrics for the coordinator
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(c *defaultCoordinator) {
		c.syncMetrics = metrics
	}
}

// WithCacheMetrics sets the cache metrics and the cache they observe
func WithCacheMetrics(metrics *telemetry.CacheMetrics, cacheRef *cache.Cache) Option {
	return func(c *defaultCoordinator) {
		c.cacheMetrics = metrics
		c.cacheRef = cacheRef
	}
}

// WithSyncOptions sets the per-run orchestrator options
func WithSyncOptions(opts orchestrator.Options) Option {
	return func(c *defaultCoordinator) {
		c.syncOpts = opts
	}
}

// WithRetryQueue sets the durable queue used to schedule deferred retries
// for failed syncs, along with its metrics
func WithRetryQueue(q *queue.Queue, metrics *telemetry.QueueMetrics) Option {
	return func(c *defaultCoordinator) {
		c.retryQueue = q
		c.queueMetrics = metrics
	}
}

// New creates a new coordinator with injected dependencies
func New(
	orch *orchestrator.Orchestrator,
	stateSvc StateService,
	cfg *config.Config,
	opts ...Option,
) Coordinator {
	c := &defaultCoordinator{
		orch:     orch,
		stateSvc: stateSvc,
		config:   cfg,
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// calculatePollingInterval returns the base polling interval with a random
// jitter applied, preventing all instances from probing simultaneously.
func calculatePollingInterval() time.Duration {
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for polling jitter
	jitterOffset := time.Duration(rand.Int64N(int64(2*pollingJitter))) - pollingJitter
	return basePollingInterval + jitterOffset
}

// Start begins background sync coordination for all sources
func (c *defaultCoordinator) Start(ctx context.Context) error {
	slog.Info("Starting background sync coordinator", "source_count", len(c.config.Sources))

	coordCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	defer func() {
		close(c.done)
		slog.Info("Background sync coordinator shutting down")
	}()

	if err := c.stateSvc.Initialize(ctx, c.config.Sources); err != nil {
		return fmt.Errorf("failed to initialize source sync status: %w", err)
	}

	pollingInterval := calculatePollingInterval()
	slog.Info("Configured coordinator sync interval",
		"base_interval", basePollingInterval,
		"actual_interval", pollingInterval)

	ticker := time.NewTicker(pollingInterval)
	defer ticker.Stop()

	// Perform initial sync check
	c.processSyncJobs(coordCtx)

	for {
		select {
		case <-ticker.C:
			c.processSyncJobs(coordCtx)

			// Recalculate interval with new jitter for next iteration
			ticker.Reset(calculatePollingInterval())
		case <-coordCtx.Done():
			slog.Info("Sync coordinator stopping")
			return nil
		}
	}
}

// Stop gracefully stops the coordinator
func (c *defaultCoordinator) Stop() error {
	if c.cancelFunc != nil {
		slog.Info("Stopping sync coordinator")
		c.cancelFunc()
		<-c.done
	}
	return nil
}

// TriggerSync runs a sync for one source immediately
func (c *defaultCoordinator) TriggerSync(ctx context.Context, sourceID string) (*orchestrator.Result, error) {
	src := c.findSource(sourceID)
	if src == nil {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownSource, sourceID)
	}

	syncStatus, err := c.stateSvc.GetSyncStatus(ctx, sourceID)
	if err != nil {
		syncStatus = nil
	}
	if ok, reason := shouldSync(src, syncStatus, true); !ok {
		return nil, fmt.Errorf("sync not possible for source '%s': %s", sourceID, reason)
	}

	return c.performSourceSync(ctx, src)
}

// SyncStatuses returns the current per-source sync statuses
func (c *defaultCoordinator) SyncStatuses(ctx context.Context) (map[string]*status.SyncStatus, error) {
	return c.stateSvc.ListSyncStatuses(ctx)
}

// processSyncJobs drains deferred retries, then checks every source and
// syncs the ones that need it
func (c *defaultCoordinator) processSyncJobs(ctx context.Context) {
	handled := c.drainRetryQueue(ctx)
	defer c.recordQueueDepth(ctx)

	for i := range c.config.Sources {
		src := &c.config.Sources[i]
		if handled[src.ID] {
			continue
		}

		syncStatus, err := c.stateSvc.GetSyncStatus(ctx, src.ID)
		if err != nil {
			slog.Error("Error loading sync status", "source", src.ID, "error", err)
			continue
		}

		needed, reason := shouldSync(src, syncStatus, false)
		if !needed {
			slog.Debug("Source does not need sync", "source", src.ID, "reason", reason)
			continue
		}

		slog.Info("Source needs sync", "source", src.ID, "reason", reason)
		if _, err := c.performSourceSync(ctx, src); err != nil {
			slog.Error("Sync failed", "source", src.ID, "error", err)
			c.enqueueRetry(src.ID, attemptCount(syncStatus))
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// performSourceSync executes the sync operation for one source and keeps
// its persisted status current throughout.
func (c *defaultCoordinator) performSourceSync(
	ctx context.Context, src *config.SourceConfig,
) (*orchestrator.Result, error) {
	sourceID := src.ID
	startTime := time.Now()

	prevStatus, _ := c.stateSvc.GetSyncStatus(ctx, sourceID)

	now := time.Now()
	syncingStatus := &status.SyncStatus{
		Phase:       status.SyncPhaseSyncing,
		Message:     "Sync in progress",
		LastAttempt: &now,
	}
	if prevStatus != nil {
		syncingStatus.AttemptCount = prevStatus.AttemptCount + 1
		syncingStatus.LastSyncTime = prevStatus.LastSyncTime
	}
	if err := c.stateSvc.UpdateSyncStatus(ctx, sourceID, syncingStatus); err != nil {
		slog.Error("Error updating sync status", "source", sourceID, "error", err)
	}

	// Set up the final status update in a defer block so the status is
	// always cleaned up, with a default failure in case of a panic path.
	finalStatus := &status.SyncStatus{
		Phase:        status.SyncPhaseFailed,
		Message:      fmt.Sprintf("Unexpected failure while syncing source %s", sourceID),
		LastAttempt:  &now,
		AttemptCount: syncingStatus.AttemptCount,
		LastSyncTime: syncingStatus.LastSyncTime,
	}
	defer func() {
		if err := c.stateSvc.UpdateSyncStatus(ctx, sourceID, finalStatus); err != nil {
			slog.Error("Error updating sync status", "source", sourceID, "error", err)
		}
	}()

	slog.Info("Starting sync operation", "source", sourceID)

	result, syncErr := c.orch.Sync(ctx, sourceID, lastSyncTimestamp(prevStatus), filterFor(src), c.syncOpts)

	syncDuration := time.Since(startTime)

	if syncErr != nil {
		finalStatus.Phase = status.SyncPhaseFailed
		finalStatus.Message = syncErr.Message
		slog.Error("Sync failed", "source", sourceID, "error", syncErr.Message)

		c.syncMetrics.RecordSyncDuration(ctx, sourceID, syncDuration, false)
		return nil, syncErr
	}

	completedAt := time.Now()
	finalStatus.Phase = status.SyncPhaseComplete
	finalStatus.Message = "Sync completed successfully"
	finalStatus.LastSyncTime = &completedAt
	finalStatus.AttemptCount = 0
	finalStatus.RecordCount = len(result.Records)
	finalStatus.SkippedCount = result.Stats.SkippedUnchanged
	finalStatus.Strategy = result.Stats.Strategy

	slog.Info("Sync completed successfully",
		"source", sourceID,
		"record_count", len(result.Records),
		"skipped_unchanged", result.Stats.SkippedUnchanged,
		"strategy", result.Stats.Strategy)

	c.syncMetrics.RecordSyncDuration(ctx, sourceID, syncDuration, true)
	c.syncMetrics.RecordRecordsSynced(ctx, sourceID, int64(len(result.Records)))
	c.syncMetrics.RecordEstimatedTotal(ctx, sourceID, int64(result.Stats.EstimatedTotal))

	if c.cacheRef != nil {
		cacheStats := c.cacheRef.Stats()
		c.cacheMetrics.RecordSnapshot(ctx, cacheStats.L1Size,
			int64(result.Stats.CacheHits), int64(result.Stats.CacheMisses))
	}

	return result, nil
}

func (c *defaultCoordinator) findSource(sourceID string) *config.SourceConfig {
	for i := range c.config.Sources {
		if c.config.Sources[i].ID == sourceID {
			return &c.config.Sources[i]
		}
	}
	return nil
}

// attemptCount returns how many consecutive attempts a source has made
func attemptCount(st *status.SyncStatus) int {
	if st == nil {
		return 0
	}
	return st.AttemptCount
}

// lastSyncTimestamp formats the last successful sync time for the
// incremental filter, or empty for a full sync
func lastSyncTimestamp(st *status.SyncStatus) string {
	if st == nil || st.LastSyncTime == nil {
		return ""
	}
	return st.LastSyncTime.Format(time.RFC3339)
}

// filterFor translates source filter configuration into a query filter
func filterFor(src *config.SourceConfig) record.Filter {
	if src.Filter == nil {
		return record.Filter{}
	}
	return record.Filter{
		Query:      src.Filter.Query,
		Properties: src.Filter.Properties,
	}
}
