package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileMappingSetAndGet(t *testing.T) {
	t.Parallel()

	m, err := NewFileMapping(filepath.Join(t.TempDir(), "mappings.json"))
	require.NoError(t, err)

	require.NoError(t, m.SetLocalID("rec-1", "local-1"))

	localID, found := m.GetLocalID("rec-1")
	assert.True(t, found)
	assert.Equal(t, "local-1", localID)

	_, found = m.GetLocalID("rec-2")
	assert.False(t, found)
	assert.Equal(t, 1, m.Len())
}

func TestFileMappingPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mappings.json")

	m, err := NewFileMapping(path)
	require.NoError(t, err)
	require.NoError(t, m.SetLocalID("rec-1", "local-1"))
	require.NoError(t, m.SetLocalID("rec-2", "local-2"))

	reopened, err := NewFileMapping(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())

	localID, found := reopened.GetLocalID("rec-2")
	assert.True(t, found)
	assert.Equal(t, "local-2", localID)
}

func TestFileMappingDelete(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mappings.json")

	m, err := NewFileMapping(path)
	require.NoError(t, err)
	require.NoError(t, m.SetLocalID("rec-1", "local-1"))
	require.NoError(t, m.Delete("rec-1"))
	require.NoError(t, m.Delete("never-existed"))

	_, found := m.GetLocalID("rec-1")
	assert.False(t, found)

	reopened, err := NewFileMapping(path)
	require.NoError(t, err)
	assert.Zero(t, reopened.Len())
}

func TestFileMappingMissingFileStartsEmpty(t *testing.T) {
	t.Parallel()

	m, err := NewFileMapping(filepath.Join(t.TempDir(), "does", "not", "exist.json"))
	require.NoError(t, err)
	assert.Zero(t, m.Len())
}

func TestFileMappingCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mappings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewFileMapping(path)
	assert.Error(t, err)
}
