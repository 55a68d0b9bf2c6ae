package coordinator

import (
	"time"

	"github.com/stacklok/content-sync/internal/config"
	"github.com/stacklok/content-sync/internal/status"
)

// Sync decision reasons
const (
	ReasonAlreadyInProgress = "sync-already-in-progress"
	ReasonSourceNotReady    = "source-not-ready"
	ReasonIntervalElapsed   = "sync-interval-elapsed"
	ReasonManualRequested   = "manual-sync-requested"
	ReasonUpToDate          = "up-to-date"
	ReasonNoPolicy          = "no-sync-policy"
	ReasonErrorChecking     = "error-checking-sync-need"
)

// isIntervalSyncNeeded checks if sync is needed based on time interval.
// Returns (syncNeeded, nextSyncTime, error); nextSyncTime is zero when no
// policy is configured.
func isIntervalSyncNeeded(src *config.SourceConfig, syncStatus *status.SyncStatus) (bool, time.Time, error) {
	if src.SyncPolicy == nil || src.SyncPolicy.Interval == "" {
		return false, time.Time{}, nil
	}

	interval, err := time.ParseDuration(src.SyncPolicy.Interval)
	if err != nil {
		return false, time.Time{}, err
	}

	now := time.Now()

	var lastAttempt *time.Time
	if syncStatus != nil {
		lastAttempt = syncStatus.LastAttempt
	}

	// No previous attempt means sync is needed
	if lastAttempt == nil {
		return true, now.Add(interval), nil
	}

	nextSyncTime := lastAttempt.Add(interval)
	if now.After(nextSyncTime) || now.Equal(nextSyncTime) {
		return true, now.Add(interval), nil
	}

	return false, nextSyncTime, nil
}

// shouldSync determines whether a source needs a sync right now.
// Returns the decision and a reason string for logging.
func shouldSync(src *config.SourceConfig, syncStatus *status.SyncStatus, manualRequested bool) (bool, string) {
	// If the source is currently syncing, don't start another sync
	if syncStatus != nil && syncStatus.Phase == status.SyncPhaseSyncing {
		return false, ReasonAlreadyInProgress
	}

	if manualRequested {
		return true, ReasonManualRequested
	}

	// A source that never completed a sync needs one
	if syncStatus == nil || syncStatus.Phase != status.SyncPhaseComplete {
		return true, ReasonSourceNotReady
	}

	intervalElapsed, _, err := isIntervalSyncNeeded(src, syncStatus)
	if err != nil {
		return false, ReasonErrorChecking
	}
	if intervalElapsed {
		return true, ReasonIntervalElapsed
	}

	if src.SyncPolicy == nil || src.SyncPolicy.Interval == "" {
		return false, ReasonNoPolicy
	}
	return false, ReasonUpToDate
}
