// Package status provides sync status tracking and persistence per source.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

//go:generate mockgen -destination=mocks/mock_status_persistence.go -package=mocks -source=persistence.go StatusPersistence

const (
	// StatusFileName is the name of the status file
	StatusFileName = "status.json"
)

// StatusPersistence defines the interface for sync status persistence
//
//nolint:revive // This name is fine
type StatusPersistence interface {
	// SaveStatus saves the sync status to persistent storage for a specific source
	SaveStatus(ctx context.Context, sourceID string, status *SyncStatus) error

	// LoadStatus loads the sync status from persistent storage for a specific source
	// Returns an empty SyncStatus if the file doesn't exist (first run)
	LoadStatus(ctx context.Context, sourceID string) (*SyncStatus, error)

	// LoadAllStatus loads sync status for all sources
	LoadAllStatus(ctx context.Context) (map[string]*SyncStatus, error)
}

// fileStatusPersistence implements StatusPersistence using local filesystem
type fileStatusPersistence struct {
	basePath string
}

// NewFileStatusPersistence creates a new file-based status persistence.
// basePath is the base directory where per-source status files are stored.
func NewFileStatusPersistence(basePath string) StatusPersistence {
	return &fileStatusPersistence{
		basePath: basePath,
	}
}

// SaveStatus saves the sync status to a JSON file in a source-specific directory
func (f *fileStatusPersistence) SaveStatus(_ context.Context, sourceID string, status *SyncStatus) error {
	sourceDir := filepath.Join(f.basePath, sourceID)
	if err := os.MkdirAll(sourceDir, 0750); err != nil {
		return fmt.Errorf("failed to create status directory for source '%s': %w", sourceID, err)
	}

	filePath := filepath.Join(sourceDir, StatusFileName)

	// Pretty-printed for operator readability
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status data for source '%s': %w", sourceID, err)
	}

	// Write to temporary file first for atomic operation
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary status file for source '%s': %w", sourceID, err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename status file for source '%s': %w", sourceID, err)
	}

	return nil
}

// LoadStatus loads the sync status from a JSON file for a specific source.
// Returns an empty SyncStatus if the file doesn't exist.
func (f *fileStatusPersistence) LoadStatus(_ context.Context, sourceID string) (*SyncStatus, error) {
	filePath := filepath.Join(f.basePath, sourceID, StatusFileName)

	// #nosec G304 -- filePath is constructed from trusted internal sources (basePath + validated sourceID)
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist - this is OK for first run
			return &SyncStatus{}, nil
		}
		return nil, fmt.Errorf("failed to read status file for source '%s': %w", sourceID, err)
	}

	var status SyncStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status data for source '%s': %w", sourceID, err)
	}

	return &status, nil
}

// LoadAllStatus loads sync status for all sources
func (f *fileStatusPersistence) LoadAllStatus(ctx context.Context) (map[string]*SyncStatus, error) {
	result := make(map[string]*SyncStatus)

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, fmt.Errorf("failed to read status directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		sourceID := entry.Name()
		status, err := f.LoadStatus(ctx, sourceID)
		if err != nil {
			// Allow partial results if some sources fail to load
			continue
		}

		result[sourceID] = status
	}

	return result, nil
}
