package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Source string `json:"source"`
}

func decodePayload(t *testing.T, item *Item) testPayload {
	t.Helper()
	var payload testPayload
	require.NoError(t, json.Unmarshal(item.Data, &payload))
	return payload
}

func TestEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q, err := New(t.TempDir())
	require.NoError(t, err)

	id, err := q.Enqueue(testPayload{Source: "src1"}, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, q.Size())

	item, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, id, item.ID)
	assert.Equal(t, "src1", decodePayload(t, item).Source)
	assert.Equal(t, 1, item.Attempts)
	assert.Equal(t, 0, q.Size())
}

func TestDequeueEmptyQueue(t *testing.T) {
	t.Parallel()

	q, err := New(t.TempDir())
	require.NoError(t, err)

	_, ok := q.Dequeue()
	assert.False(t, ok)
}

func TestDequeueOrdering(t *testing.T) {
	t.Parallel()

	q, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = q.Enqueue(testPayload{Source: "low-old"}, 1)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = q.Enqueue(testPayload{Source: "high"}, 5)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = q.Enqueue(testPayload{Source: "low-new"}, 1)
	require.NoError(t, err)

	var order []string
	for {
		item, ok := q.Dequeue()
		if !ok {
			break
		}
		order = append(order, decodePayload(t, item).Source)
	}

	// Priority descending, then insertion time ascending
	assert.Equal(t, []string{"high", "low-old", "low-new"}, order)
}

func TestDequeueSingleConsumer(t *testing.T) {
	t.Parallel()

	q, err := New(t.TempDir())
	require.NoError(t, err)

	const itemCount = 20
	for i := 0; i < itemCount; i++ {
		_, err := q.Enqueue(testPayload{Source: "src"}, 0)
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, ok := q.Dequeue()
				if !ok {
					return
				}
				mu.Lock()
				seen[item.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, itemCount)
	for id, count := range seen {
		assert.Equal(t, 1, count, "item %s dequeued more than once", id)
	}
}

func TestDequeueSkipsLockedItems(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	q, err := New(dir)
	require.NoError(t, err)

	lockedID, err := q.Enqueue(testPayload{Source: "locked"}, 5)
	require.NoError(t, err)
	_, err = q.Enqueue(testPayload{Source: "free"}, 0)
	require.NoError(t, err)

	// Simulate another live consumer holding the high-priority item
	require.NoError(t, os.WriteFile(filepath.Join(dir, lockedID+".lock"), []byte("9999"), 0600))

	item, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "free", decodePayload(t, item).Source)

	_, ok = q.Dequeue()
	assert.False(t, ok, "locked item must not be dequeued")
}

func TestDequeueRecoversStaleLock(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	q, err := New(dir, WithLockTTL(50*time.Millisecond))
	require.NoError(t, err)

	id, err := q.Enqueue(testPayload{Source: "stale"}, 0)
	require.NoError(t, err)

	// A lock left behind by a crashed consumer, older than the TTL
	lockPath := filepath.Join(dir, id+".lock")
	require.NoError(t, os.WriteFile(lockPath, []byte("9999"), 0600))
	past := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(lockPath, past, past))

	item, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, id, item.ID)
}

func TestRequeue(t *testing.T) {
	t.Parallel()

	q, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = q.Enqueue(testPayload{Source: "src"}, 0)
	require.NoError(t, err)

	item, ok := q.Dequeue()
	require.True(t, ok)

	requeued, err := q.Requeue(item)
	require.NoError(t, err)
	assert.True(t, requeued)
	assert.Equal(t, 1, q.Size())

	// The requeued item keeps its attempt count
	item, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 2, item.Attempts)
}

func TestRequeueDropsExhaustedItem(t *testing.T) {
	t.Parallel()

	q, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = q.Enqueue(testPayload{Source: "src"}, 0)
	require.NoError(t, err)

	for i := 0; i < DefaultMaxAttempts; i++ {
		item, ok := q.Dequeue()
		require.True(t, ok)

		requeued, err := q.Requeue(item)
		require.NoError(t, err)
		if i < DefaultMaxAttempts-1 {
			assert.True(t, requeued)
		} else {
			assert.False(t, requeued, "item must be dropped after exhausting attempts")
		}
	}

	assert.Equal(t, 0, q.Size())
}

func TestRemoveById(t *testing.T) {
	t.Parallel()

	q, err := New(t.TempDir())
	require.NoError(t, err)

	id, err := q.Enqueue(testPayload{Source: "src"}, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, q.RemoveById(id))
	assert.Equal(t, 0, q.RemoveById(id))
	assert.Equal(t, 0, q.Size())
}

func TestClear(t *testing.T) {
	t.Parallel()

	q, err := New(t.TempDir())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(testPayload{Source: "src"}, i)
		require.NoError(t, err)
	}

	require.NoError(t, q.Clear())
	assert.Equal(t, 0, q.Size())
}

func TestCleanup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	q, err := New(dir, WithLockTTL(50*time.Millisecond))
	require.NoError(t, err)

	id, err := q.Enqueue(testPayload{Source: "src"}, 0)
	require.NoError(t, err)

	// Stale lock on a live item
	stalePath := filepath.Join(dir, id+".lock")
	require.NoError(t, os.WriteFile(stalePath, []byte("9999"), 0600))
	past := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(stalePath, past, past))

	// Orphaned lock with no item
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gone.lock"), []byte("9999"), 0600))

	// Corrupt item file
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt.json"), []byte("{not json"), 0600))

	require.NoError(t, q.Cleanup())

	assert.NoFileExists(t, stalePath)
	assert.NoFileExists(t, filepath.Join(dir, "gone.lock"))
	assert.NoFileExists(t, filepath.Join(dir, "corrupt.json"))

	// The live item survives cleanup
	item, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, id, item.ID)
}

func TestQueueStats(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	q, err := New(dir)
	require.NoError(t, err)

	id, err := q.Enqueue(testPayload{Source: "a"}, 0)
	require.NoError(t, err)
	_, err = q.Enqueue(testPayload{Source: "b"}, 0)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".lock"), []byte("1"), 0600))

	stats := q.QueueStats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, 1, stats.Locked)
}
