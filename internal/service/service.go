// Package service exposes the sync engine's operational surface to the
// API layer: sync triggering plus cache and queue introspection.
package service

import (
	"context"

	"github.com/stacklok/content-sync/internal/cache"
	"github.com/stacklok/content-sync/internal/coordinator"
	"github.com/stacklok/content-sync/internal/orchestrator"
	"github.com/stacklok/content-sync/internal/queue"
	"github.com/stacklok/content-sync/internal/status"
)

// SyncService is the operational interface consumed by monitoring surfaces
//
//go:generate mockgen -destination=mocks/mock_service.go -package=mocks -source=service.go SyncService
type SyncService interface {
	// TriggerSync runs a sync for one source immediately
	TriggerSync(ctx context.Context, sourceID string) (*orchestrator.Result, error)

	// SyncStatuses returns the per-source sync statuses
	SyncStatuses(ctx context.Context) (map[string]*status.SyncStatus, error)

	// CacheStats returns a snapshot of cache effectiveness counters
	CacheStats() cache.Stats

	// InvalidateCache removes cache entries matching a single-wildcard
	// glob from both tiers, returning the number removed
	InvalidateCache(ctx context.Context, pattern string) int

	// QueueStats returns a snapshot of work queue state
	QueueStats() queue.Stats
}

// defaultSyncService wires the coordinator, cache and queue together
type defaultSyncService struct {
	coord coordinator.Coordinator
	cache *cache.Cache
	queue *queue.Queue
}

// New creates the default SyncService
func New(coord coordinator.Coordinator, c *cache.Cache, q *queue.Queue) SyncService {
	return &defaultSyncService{
		coord: coord,
		cache: c,
		queue: q,
	}
}

func (s *defaultSyncService) TriggerSync(ctx context.Context, sourceID string) (*orchestrator.Result, error) {
	return s.coord.TriggerSync(ctx, sourceID)
}

func (s *defaultSyncService) SyncStatuses(ctx context.Context) (map[string]*status.SyncStatus, error) {
	return s.coord.SyncStatuses(ctx)
}

func (s *defaultSyncService) CacheStats() cache.Stats {
	return s.cache.Stats()
}

func (s *defaultSyncService) InvalidateCache(ctx context.Context, pattern string) int {
	return s.cache.InvalidatePattern(ctx, pattern)
}

func (s *defaultSyncService) QueueStats() queue.Stats {
	return s.queue.QueueStats()
}
