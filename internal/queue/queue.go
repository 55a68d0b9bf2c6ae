// Package queue provides a durable, priority-ordered task queue for
// deferred follow-up work, decoupled from the main sync call.
//
// Items are JSON files written atomically via temp-file + rename. Mutual
// exclusion between consumers relies on exclusive-create lock files rather
// than an in-process lock, since multiple OS processes may share the queue
// directory.
package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const (
	// DefaultLockTTL is how long a consumer lock is honored before being
	// considered stale and removed
	DefaultLockTTL = 5 * time.Minute

	// DefaultMaxAttempts bounds how often a failed item is requeued
	DefaultMaxAttempts = 3

	itemSuffix = ".json"
	lockSuffix = ".lock"

	// maintenanceLockName serializes Clear/Cleanup across processes
	maintenanceLockName = ".maintenance.lock"
)

// Item is a single queued unit of work
type Item struct {
	ID          string          `json:"id"`
	Data        json.RawMessage `json:"data"`
	Priority    int             `json:"priority"`
	CreatedAt   time.Time       `json:"created_at"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
}

// Stats is a snapshot of queue state for monitoring surfaces
type Stats struct {
	Size   int `json:"size"`
	Locked int `json:"locked"`
}

// Queue is a directory-backed work queue
type Queue struct {
	dir       string
	lockTTL   time.Duration
	maintLock *flock.Flock
}

// Option configures the queue
type Option func(*Queue)

// WithLockTTL overrides the stale-lock threshold
func WithLockTTL(ttl time.Duration) Option {
	return func(q *Queue) {
		q.lockTTL = ttl
	}
}

// New creates a queue rooted at dir, creating the directory if needed
func New(dir string, opts ...Option) (*Queue, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	q := &Queue{
		dir:       dir,
		lockTTL:   DefaultLockTTL,
		maintLock: flock.New(filepath.Join(dir, maintenanceLockName)),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Enqueue adds a new item and returns its id. The write-then-rename
// sequence guarantees a reader never observes a partially written item.
func (q *Queue) Enqueue(payload any, priority int) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal queue payload: %w", err)
	}

	item := Item{
		ID:          uuid.NewString(),
		Data:        data,
		Priority:    priority,
		CreatedAt:   time.Now(),
		MaxAttempts: DefaultMaxAttempts,
	}

	if err := q.writeItem(&item); err != nil {
		return "", err
	}
	return item.ID, nil
}

// Dequeue removes and returns the highest-priority, oldest unlocked item.
// Lock acquisition is non-blocking: a held lock moves the scan to the next
// candidate. Stale locks are removed and the item retried.
func (q *Queue) Dequeue() (*Item, bool) {
	items, err := q.listItems()
	if err != nil {
		slog.Warn("Failed to list queue items", "error", err)
		return nil, false
	}

	for _, item := range items {
		if !q.tryLock(item.ID) {
			continue
		}

		// Re-read under the lock: the item may have been consumed
		// between the scan and lock acquisition
		current, err := q.readItem(item.ID)
		if err != nil {
			q.unlock(item.ID)
			continue
		}

		// Commit: remove the item, then release the lock
		if err := os.Remove(q.itemPath(item.ID)); err != nil {
			q.unlock(item.ID)
			continue
		}
		q.unlock(item.ID)

		current.Attempts++
		return current, true
	}

	return nil, false
}

// Requeue puts a previously dequeued item back after failed processing.
// Items that have exhausted their attempts are dropped; returns whether
// the item was requeued.
func (q *Queue) Requeue(item *Item) (bool, error) {
	if item.Attempts >= item.MaxAttempts {
		slog.Info("Dropping queue item after exhausting attempts",
			"item_id", item.ID, "attempts", item.Attempts)
		return false, nil
	}
	if err := q.writeItem(item); err != nil {
		return false, err
	}
	return true, nil
}

// Size returns the number of queued items
func (q *Queue) Size() int {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if isItemFile(entry.Name()) {
			count++
		}
	}
	return count
}

// QueueStats returns a snapshot of queue state
func (q *Queue) QueueStats() Stats {
	stats := Stats{}
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return stats
	}
	for _, entry := range entries {
		switch {
		case isItemFile(entry.Name()):
			stats.Size++
		case strings.HasSuffix(entry.Name(), lockSuffix) && entry.Name() != maintenanceLockName:
			stats.Locked++
		}
	}
	return stats
}

// RemoveById removes an item by id, returning the number removed (0 or 1)
func (q *Queue) RemoveById(id string) int {
	if err := os.Remove(q.itemPath(id)); err != nil {
		return 0
	}
	_ = os.Remove(q.lockPath(id))
	return 1
}

// Clear removes every item and lock in the queue
func (q *Queue) Clear() error {
	if err := q.maintLock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire maintenance lock: %w", err)
	}
	defer func() {
		_ = q.maintLock.Unlock()
	}()

	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return fmt.Errorf("failed to read queue directory: %w", err)
	}
	for _, entry := range entries {
		if entry.Name() == maintenanceLockName {
			continue
		}
		if isItemFile(entry.Name()) || strings.HasSuffix(entry.Name(), lockSuffix) {
			_ = os.Remove(filepath.Join(q.dir, entry.Name()))
		}
	}
	return nil
}

// Cleanup purges stale locks, orphaned locks, and corrupt items
func (q *Queue) Cleanup() error {
	if err := q.maintLock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire maintenance lock: %w", err)
	}
	defer func() {
		_ = q.maintLock.Unlock()
	}()

	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return fmt.Errorf("failed to read queue directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(q.dir, name)

		switch {
		case strings.HasSuffix(name, lockSuffix) && name != maintenanceLockName:
			id := strings.TrimSuffix(name, lockSuffix)
			info, err := entry.Info()
			stale := err == nil && time.Since(info.ModTime()) > q.lockTTL
			_, itemErr := os.Stat(q.itemPath(id))
			orphaned := os.IsNotExist(itemErr)
			if stale || orphaned {
				_ = os.Remove(path)
			}

		case isItemFile(name):
			// #nosec G304 -- path is constrained to the queue directory
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			var item Item
			if err := json.Unmarshal(data, &item); err != nil {
				slog.Warn("Discarding corrupt queue item", "file", name, "error", err)
				_ = os.Remove(path)
			}
		}
	}
	return nil
}

// listItems loads all parsable items, ordered priority-descending then
// insertion-time-ascending. Corrupt items are skipped; Cleanup removes them.
func (q *Queue) listItems() ([]*Item, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue directory: %w", err)
	}

	items := make([]*Item, 0, len(entries))
	for _, entry := range entries {
		if !isItemFile(entry.Name()) {
			continue
		}
		item, err := q.readItem(strings.TrimSuffix(entry.Name(), itemSuffix))
		if err != nil {
			continue
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (q *Queue) readItem(id string) (*Item, error) {
	// #nosec G304 -- path is constrained to the queue directory
	data, err := os.ReadFile(q.itemPath(id))
	if err != nil {
		return nil, err
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue item '%s': %w", id, err)
	}
	return &item, nil
}

func (q *Queue) writeItem(item *Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal queue item: %w", err)
	}

	path := q.itemPath(item.ID)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary queue file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename queue file: %w", err)
	}
	return nil
}

// tryLock acquires the per-item lock via exclusive create, writing the
// owning pid as plain text. A stale lock is removed and acquisition
// retried once.
func (q *Queue) tryLock(id string) bool {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(q.lockPath(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			_ = f.Close()
			return true
		}
		if !os.IsExist(err) {
			return false
		}

		info, statErr := os.Stat(q.lockPath(id))
		if statErr != nil || time.Since(info.ModTime()) <= q.lockTTL {
			// Lock is held and fresh
			return false
		}
		// Stale lock: remove and retry the exclusive create
		_ = os.Remove(q.lockPath(id))
	}
	return false
}

func (q *Queue) unlock(id string) {
	_ = os.Remove(q.lockPath(id))
}

func (q *Queue) itemPath(id string) string {
	return filepath.Join(q.dir, id+itemSuffix)
}

func (q *Queue) lockPath(id string) string {
	return filepath.Join(q.dir, id+lockSuffix)
}

func isItemFile(name string) bool {
	return strings.HasSuffix(name, itemSuffix) && !strings.HasSuffix(name, ".tmp")
}
