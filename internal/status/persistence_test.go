package status

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStatusPersistenceSaveAndLoad(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	persistence := NewFileStatusPersistence(tmpDir)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	testStatus := &SyncStatus{
		Phase:        SyncPhaseComplete,
		Message:      "Sync completed successfully",
		LastSyncTime: &now,
		RecordCount:  42,
		SkippedCount: 7,
		Strategy:     "medium",
	}

	require.NoError(t, persistence.SaveStatus(ctx, "src-1", testStatus))

	loaded, err := persistence.LoadStatus(ctx, "src-1")
	require.NoError(t, err)
	assert.Equal(t, SyncPhaseComplete, loaded.Phase)
	assert.Equal(t, 42, loaded.RecordCount)
	assert.Equal(t, 7, loaded.SkippedCount)
	assert.Equal(t, "medium", loaded.Strategy)
	require.NotNil(t, loaded.LastSyncTime)
	assert.True(t, loaded.LastSyncTime.Equal(now))
}

func TestFileStatusPersistenceFirstRun(t *testing.T) {
	t.Parallel()

	persistence := NewFileStatusPersistence(t.TempDir())

	loaded, err := persistence.LoadStatus(context.Background(), "never-synced")
	require.NoError(t, err)
	assert.Equal(t, SyncPhase(""), loaded.Phase)
	assert.Nil(t, loaded.LastSyncTime)
}

func TestFileStatusPersistencePerSourceIsolation(t *testing.T) {
	t.Parallel()

	persistence := NewFileStatusPersistence(t.TempDir())
	ctx := context.Background()

	require.NoError(t, persistence.SaveStatus(ctx, "src-1", &SyncStatus{Phase: SyncPhaseComplete}))
	require.NoError(t, persistence.SaveStatus(ctx, "src-2", &SyncStatus{Phase: SyncPhaseFailed}))

	first, err := persistence.LoadStatus(ctx, "src-1")
	require.NoError(t, err)
	second, err := persistence.LoadStatus(ctx, "src-2")
	require.NoError(t, err)

	assert.Equal(t, SyncPhaseComplete, first.Phase)
	assert.Equal(t, SyncPhaseFailed, second.Phase)
}

func TestFileStatusPersistenceLoadAll(t *testing.T) {
	t.Parallel()

	persistence := NewFileStatusPersistence(t.TempDir())
	ctx := context.Background()

	require.NoError(t, persistence.SaveStatus(ctx, "src-1", &SyncStatus{Phase: SyncPhaseComplete}))
	require.NoError(t, persistence.SaveStatus(ctx, "src-2", &SyncStatus{Phase: SyncPhaseSyncing}))

	all, err := persistence.LoadAllStatus(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, SyncPhaseComplete, all["src-1"].Phase)
	assert.Equal(t, SyncPhaseSyncing, all["src-2"].Phase)
}

func TestFileStatusPersistenceLoadAllEmptyDir(t *testing.T) {
	t.Parallel()

	persistence := NewFileStatusPersistence(filepath.Join(t.TempDir(), "missing"))

	all, err := persistence.LoadAllStatus(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFileStatusPersistenceCorruptFile(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	persistence := NewFileStatusPersistence(tmpDir)
	ctx := context.Background()

	sourceDir := filepath.Join(tmpDir, "src-1")
	require.NoError(t, os.MkdirAll(sourceDir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, StatusFileName), []byte("{not json"), 0600))

	_, err := persistence.LoadStatus(ctx, "src-1")
	assert.Error(t, err)
}
