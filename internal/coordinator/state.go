package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stacklok/content-sync/internal/config"
	"github.com/stacklok/content-sync/internal/status"
)

// StateService tracks per-source sync status backed by persistent storage
//
//go:generate mockgen -destination=mocks/mock_state.go -package=mocks -source=state.go StateService
type StateService interface {
	// Initialize loads or initializes sync status for all sources
	Initialize(ctx context.Context, sources []config.SourceConfig) error

	// GetSyncStatus returns a copy of a source's sync status
	GetSyncStatus(ctx context.Context, sourceID string) (*status.SyncStatus, error)

	// UpdateSyncStatus persists and caches a source's sync status
	UpdateSyncStatus(ctx context.Context, sourceID string, syncStatus *status.SyncStatus) error

	// ListSyncStatuses returns copies of all tracked sync statuses
	ListSyncStatuses(ctx context.Context) (map[string]*status.SyncStatus, error)
}

// fileStateService is the file-backed StateService
type fileStateService struct {
	statusPersistence status.StatusPersistence

	// Thread-safe status management (per-source)
	mu             sync.RWMutex
	cachedStatuses map[string]*status.SyncStatus
}

// NewFileStateService creates a new file-based source state service
func NewFileStateService(statusPersistence status.StatusPersistence) StateService {
	return &fileStateService{
		statusPersistence: statusPersistence,
		cachedStatuses:    make(map[string]*status.SyncStatus),
	}
}

func (f *fileStateService) Initialize(ctx context.Context, sources []config.SourceConfig) error {
	for _, src := range sources {
		f.loadOrInitializeSourceStatus(ctx, src.ID)
	}
	return nil
}

func (f *fileStateService) GetSyncStatus(_ context.Context, sourceID string) (*status.SyncStatus, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	syncStatus, exists := f.cachedStatuses[sourceID]
	if !exists || syncStatus == nil {
		return nil, fmt.Errorf("sync status for source %s not found", sourceID)
	}
	// Return a copy to prevent external modification
	statusCopy := *syncStatus
	return &statusCopy, nil
}

func (f *fileStateService) UpdateSyncStatus(ctx context.Context, sourceID string, syncStatus *status.SyncStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.statusPersistence.SaveStatus(ctx, sourceID, syncStatus); err != nil {
		return err
	}
	f.cachedStatuses[sourceID] = syncStatus
	return nil
}

func (f *fileStateService) ListSyncStatuses(_ context.Context) (map[string]*status.SyncStatus, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	// Return deep copies to prevent external modification
	result := make(map[string]*status.SyncStatus)
	for id, syncStatus := range f.cachedStatuses {
		if syncStatus != nil {
			statusCopy := *syncStatus
			result[id] = &statusCopy
		}
	}
	return result, nil
}

func (f *fileStateService) loadOrInitializeSourceStatus(ctx context.Context, sourceID string) {
	syncStatus, err := f.statusPersistence.LoadStatus(ctx, sourceID)
	if err != nil {
		slog.Warn("Failed to load sync status, initializing with defaults",
			"source", sourceID, "error", err)
		syncStatus = &status.SyncStatus{
			Phase:   status.SyncPhaseFailed,
			Message: "No previous sync status found",
		}
	}

	if syncStatus.Phase == "" && syncStatus.LastSyncTime == nil {
		slog.Info("No previous sync status found, initializing with defaults", "source", sourceID)
		syncStatus.Phase = status.SyncPhaseFailed
		syncStatus.Message = "No previous sync status found"

		if err := f.statusPersistence.SaveStatus(ctx, sourceID, syncStatus); err != nil {
			slog.Warn("Failed to persist default sync status", "source", sourceID, "error", err)
		}
	} else if syncStatus.Phase == status.SyncPhaseSyncing {
		// A status left in Syncing means the previous run was interrupted.
		// Reset it to Failed so the sync will be retriggered.
		slog.Warn("Previous sync was interrupted, resetting to Failed", "source", sourceID)
		syncStatus.Phase = status.SyncPhaseFailed
		syncStatus.Message = "Previous sync was interrupted"
		if err := f.statusPersistence.SaveStatus(ctx, sourceID, syncStatus); err != nil {
			slog.Warn("Failed to persist corrected sync status", "source", sourceID, "error", err)
		}
	}

	if syncStatus.LastSyncTime != nil {
		slog.Info("Loaded sync status",
			"source", sourceID,
			"phase", syncStatus.Phase,
			"last_sync", syncStatus.LastSyncTime.Format(time.RFC3339),
			"record_count", syncStatus.RecordCount)
	} else {
		slog.Info("Sync status loaded, no previous sync", "source", sourceID, "phase", syncStatus.Phase)
	}

	f.mu.Lock()
	f.cachedStatuses[sourceID] = syncStatus
	f.mu.Unlock()
}
