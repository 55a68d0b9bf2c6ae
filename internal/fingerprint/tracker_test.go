package fingerprint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/content-sync/internal/record"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return NewTracker(store)
}

func TestDetectChangesNewRecord(t *testing.T) {
	t.Parallel()

	tracker := newTestTracker(t)
	changes := tracker.DetectChanges(context.Background(), testRecord(), "rec-1", false)

	assert.True(t, changes.Changed())
	assert.Len(t, changes, 4, "a never-synced record reports every dimension changed")
}

func TestDetectChangesCommitPersists(t *testing.T) {
	t.Parallel()

	tracker := newTestTracker(t)
	ctx := context.Background()

	changes := tracker.DetectChanges(ctx, testRecord(), "rec-1", true)
	require.True(t, changes.Changed())

	// The committed fingerprint makes a second detection report no change
	changes = tracker.DetectChanges(ctx, testRecord(), "rec-1", false)
	assert.False(t, changes.Changed())
}

func TestDetectChangesReadOnlyDoesNotPersist(t *testing.T) {
	t.Parallel()

	tracker := newTestTracker(t)
	ctx := context.Background()

	tracker.DetectChanges(ctx, testRecord(), "rec-1", false)

	// Nothing was committed, so the record still reads as new
	changes := tracker.DetectChanges(ctx, testRecord(), "rec-1", false)
	assert.Len(t, changes, 4)
}

func TestShouldSkip(t *testing.T) {
	t.Parallel()

	tracker := newTestTracker(t)
	ctx := context.Background()

	// Never skip a record with no prior fingerprint
	assert.False(t, tracker.ShouldSkip(ctx, testRecord(), "rec-1"))

	require.NoError(t, tracker.Commit(ctx, testRecord(), "rec-1"))
	assert.True(t, tracker.ShouldSkip(ctx, testRecord(), "rec-1"))

	// Any content change disqualifies the skip
	edited := testRecord()
	edited.Title = "Renamed"
	assert.False(t, tracker.ShouldSkip(ctx, edited, "rec-1"))
}

// countingStore counts Load calls to the wrapped store
type countingStore struct {
	Store
	loads int
}

func (c *countingStore) Load(ctx context.Context, recordID string) (*Fingerprint, bool, error) {
	c.loads++
	return c.Store.Load(ctx, recordID)
}

func TestShouldSkipLoadsFingerprintOnce(t *testing.T) {
	t.Parallel()

	fileStore, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	store := &countingStore{Store: fileStore}
	tracker := NewTracker(store)
	ctx := context.Background()

	require.NoError(t, tracker.Commit(ctx, testRecord(), "rec-1"))

	store.loads = 0
	assert.True(t, tracker.ShouldSkip(ctx, testRecord(), "rec-1"))
	assert.Equal(t, 1, store.loads)
}

func TestCommitIdempotent(t *testing.T) {
	t.Parallel()

	tracker := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Commit(ctx, testRecord(), "rec-1"))
	require.NoError(t, tracker.Commit(ctx, testRecord(), "rec-1"))

	assert.True(t, tracker.ShouldSkip(ctx, testRecord(), "rec-1"))
}

func TestBatchDetect(t *testing.T) {
	t.Parallel()

	tracker := newTestTracker(t)
	ctx := context.Background()

	synced := testRecord()
	require.NoError(t, tracker.Commit(ctx, synced, "local-1"))

	fresh := testRecord()
	fresh.ID = "rec-2"
	fresh.Title = "Another"

	results := tracker.BatchDetect(ctx, []*record.Record{synced, fresh}, map[string]string{
		"rec-1": "local-1",
	})

	require.Len(t, results, 2)
	assert.False(t, results["rec-1"].Changed(), "mapped record with matching fingerprint is unchanged")
	assert.True(t, results["rec-2"].Changed(), "unmapped record uses its own id and reads as new")
}
