package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/stacklok/content-sync/sync"

	// CacheMetricsMeterName is the name used for the cache metrics meter
	CacheMetricsMeterName = "github.com/stacklok/content-sync/cache"

	// QueueMetricsMeterName is the name used for the queue metrics meter
	QueueMetricsMeterName = "github.com/stacklok/content-sync/queue"
)

// SyncMetrics holds the OpenTelemetry instruments for sync operation metrics
type SyncMetrics struct {
	syncDuration  metric.Float64Histogram
	recordsSynced metric.Int64Counter
	recordsTotal  metric.Int64Gauge
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	syncDuration, err := meter.Float64Histogram(
		"content_sync_duration_seconds",
		metric.WithDescription("Duration of sync operations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	recordsSynced, err := meter.Int64Counter(
		"content_sync_records_synced_total",
		metric.WithDescription("Number of records returned by sync operations"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	recordsTotal, err := meter.Int64Gauge(
		"content_sync_source_records",
		metric.WithDescription("Estimated number of records in each source"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		syncDuration:  syncDuration,
		recordsSynced: recordsSynced,
		recordsTotal:  recordsTotal,
	}, nil
}

// RecordSyncDuration records the duration of a sync operation for a source
func (m *SyncMetrics) RecordSyncDuration(ctx context.Context, sourceID string, duration time.Duration, success bool) {
	if m == nil || m.syncDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("source", sourceID),
		attribute.Bool("success", success),
	}

	m.syncDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordRecordsSynced records how many records a sync returned
func (m *SyncMetrics) RecordRecordsSynced(ctx context.Context, sourceID string, count int64) {
	if m == nil || m.recordsSynced == nil {
		return
	}

	m.recordsSynced.Add(ctx, count, metric.WithAttributes(attribute.String("source", sourceID)))
}

// RecordEstimatedTotal records the estimated source size
func (m *SyncMetrics) RecordEstimatedTotal(ctx context.Context, sourceID string, estimate int64) {
	if m == nil || m.recordsTotal == nil {
		return
	}

	m.recordsTotal.Record(ctx, estimate, metric.WithAttributes(attribute.String("source", sourceID)))
}

// CacheMetrics holds the OpenTelemetry instruments for cache metrics
type CacheMetrics struct {
	l1Size metric.Int64Gauge
	hits   metric.Int64Counter
	misses metric.Int64Counter
}

// NewCacheMetrics creates a new CacheMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewCacheMetrics(provider metric.MeterProvider) (*CacheMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CacheMetricsMeterName)

	l1Size, err := meter.Int64Gauge(
		"content_sync_cache_l1_entries",
		metric.WithDescription("Number of entries in the in-memory cache tier"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	hits, err := meter.Int64Counter(
		"content_sync_cache_hits_total",
		metric.WithDescription("Cache hits per sync run"),
	)
	if err != nil {
		return nil, err
	}

	misses, err := meter.Int64Counter(
		"content_sync_cache_misses_total",
		metric.WithDescription("Cache misses per sync run"),
	)
	if err != nil {
		return nil, err
	}

	return &CacheMetrics{
		l1Size: l1Size,
		hits:   hits,
		misses: misses,
	}, nil
}

// RecordSnapshot records the current L1 size and per-run hit/miss deltas
func (m *CacheMetrics) RecordSnapshot(ctx context.Context, l1Size int, hits, misses int64) {
	if m == nil {
		return
	}

	if m.l1Size != nil {
		m.l1Size.Record(ctx, int64(l1Size))
	}
	if m.hits != nil && hits > 0 {
		m.hits.Add(ctx, hits)
	}
	if m.misses != nil && misses > 0 {
		m.misses.Add(ctx, misses)
	}
}

// QueueMetrics holds the OpenTelemetry instruments for work queue metrics
type QueueMetrics struct {
	depth  metric.Int64Gauge
	locked metric.Int64Gauge
}

// NewQueueMetrics creates a new QueueMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewQueueMetrics(provider metric.MeterProvider) (*QueueMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(QueueMetricsMeterName)

	depth, err := meter.Int64Gauge(
		"content_sync_queue_depth",
		metric.WithDescription("Number of items waiting in the work queue"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	locked, err := meter.Int64Gauge(
		"content_sync_queue_locked",
		metric.WithDescription("Number of queue items currently locked by a consumer"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	return &QueueMetrics{
		depth:  depth,
		locked: locked,
	}, nil
}

// RecordDepth records the current queue depth and locked item count
func (m *QueueMetrics) RecordDepth(ctx context.Context, size, locked int) {
	if m == nil {
		return
	}

	if m.depth != nil {
		m.depth.Record(ctx, int64(size))
	}
	if m.locked != nil {
		m.locked.Record(ctx, int64(locked))
	}
}
