package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/stacklok/content-sync/internal/queue"
)

// retryPayload is the queue item body for a deferred sync retry
type retryPayload struct {
	SourceID string `json:"source_id"`
}

// enqueueRetry schedules a failed source for a deferred retry. Each prior
// attempt raises the priority so persistently failing sources are looked
// at first.
func (c *defaultCoordinator) enqueueRetry(sourceID string, attemptCount int) {
	if c.retryQueue == nil {
		return
	}

	id, err := c.retryQueue.Enqueue(retryPayload{SourceID: sourceID}, attemptCount)
	if err != nil {
		slog.Error("Failed to enqueue sync retry", "source", sourceID, "error", err)
		return
	}
	slog.Debug("Enqueued sync retry", "source", sourceID, "item_id", id)
}

// drainRetryQueue processes deferred retry items, returning the set of
// sources synced so the interval scan does not sync them twice in the
// same tick. Items for sources that no longer need a sync are dropped.
func (c *defaultCoordinator) drainRetryQueue(ctx context.Context) map[string]bool {
	handled := make(map[string]bool)
	if c.retryQueue == nil {
		return handled
	}

	// Snapshot the queue before processing. A failed retry is requeued
	// while we iterate, and dequeuing it again in the same pass would
	// destroy it before its remaining attempts are used up.
	var items []*queue.Item
	for {
		item, ok := c.retryQueue.Dequeue()
		if !ok {
			break
		}
		items = append(items, item)
	}

	for i, item := range items {
		if ctx.Err() != nil {
			c.requeueRemaining(items[i:])
			break
		}

		var payload retryPayload
		if err := json.Unmarshal(item.Data, &payload); err != nil {
			slog.Warn("Dropping malformed retry item", "item_id", item.ID, "error", err)
			continue
		}

		src := c.findSource(payload.SourceID)
		if src == nil {
			slog.Warn("Dropping retry item for unknown source", "source", payload.SourceID)
			continue
		}
		if handled[src.ID] {
			// The source was already retried this pass; if that retry
			// failed its item is back in the queue, so this one is
			// redundant either way
			slog.Debug("Dropping redundant retry item", "source", src.ID, "item_id", item.ID)
			continue
		}

		syncStatus, err := c.stateSvc.GetSyncStatus(ctx, src.ID)
		if err != nil {
			syncStatus = nil
		}
		if needed, _ := shouldSync(src, syncStatus, false); !needed {
			// The source recovered on its own; the retry is moot
			continue
		}

		slog.Info("Retrying sync from queue",
			"source", src.ID, "item_id", item.ID, "attempt", item.Attempts)
		handled[src.ID] = true

		if _, err := c.performSourceSync(ctx, src); err != nil {
			if requeued, rerr := c.retryQueue.Requeue(item); rerr != nil {
				slog.Error("Failed to requeue sync retry", "source", src.ID, "error", rerr)
			} else if requeued {
				slog.Debug("Requeued sync retry", "source", src.ID, "item_id", item.ID)
			}
		}
	}

	return handled
}

// requeueRemaining puts unprocessed snapshot items back when a drain is
// cut short by shutdown
func (c *defaultCoordinator) requeueRemaining(items []*queue.Item) {
	for _, item := range items {
		if _, err := c.retryQueue.Requeue(item); err != nil {
			slog.Error("Failed to requeue sync retry", "item_id", item.ID, "error", err)
		}
	}
}

// recordQueueDepth publishes a queue state snapshot to the metrics layer
func (c *defaultCoordinator) recordQueueDepth(ctx context.Context) {
	if c.retryQueue == nil {
		return
	}
	stats := c.retryQueue.QueueStats()
	c.queueMetrics.RecordDepth(ctx, stats.Size, stats.Locked)
}
