// Package mapping tracks which remote records have already been written
// downstream, keyed by remote record id.
package mapping

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileMapping is a file-backed remote-to-local id mapping. The whole
// mapping is held in memory and flushed atomically on every update; the
// expected cardinality is one entry per synced record.
type FileMapping struct {
	path string

	mu      sync.RWMutex
	entries map[string]string
}

// NewFileMapping loads the mapping stored at path, starting empty if the
// file does not exist yet
func NewFileMapping(path string) (*FileMapping, error) {
	m := &FileMapping{
		path:    path,
		entries: make(map[string]string),
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}

	if err := json.Unmarshal(data, &m.entries); err != nil {
		return nil, fmt.Errorf("failed to parse mapping file %s: %w", path, err)
	}
	return m, nil
}

// GetLocalID returns the local id mapped to a remote record, or
// found=false if the record has never been written downstream
func (m *FileMapping) GetLocalID(remoteID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	localID, found := m.entries[remoteID]
	return localID, found
}

// SetLocalID records the downstream id assigned to a remote record and
// persists the mapping
func (m *FileMapping) SetLocalID(remoteID, localID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[remoteID] = localID
	return m.save()
}

// Delete removes a remote record from the mapping and persists the change
func (m *FileMapping) Delete(remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.entries[remoteID]; !found {
		return nil
	}
	delete(m.entries, remoteID)
	return m.save()
}

// Len returns the number of mapped records
func (m *FileMapping) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}

// save writes the mapping via temp-file + rename so a crash mid-write
// never leaves a truncated file. Callers must hold the write lock.
func (m *FileMapping) save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0750); err != nil {
		return fmt.Errorf("failed to create mapping directory: %w", err)
	}

	data, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	tempPath := m.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary mapping file: %w", err)
	}
	if err := os.Rename(tempPath, m.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename mapping file: %w", err)
	}
	return nil
}
