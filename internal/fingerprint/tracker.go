package fingerprint

import (
	"context"
	"log/slog"

	"github.com/stacklok/content-sync/internal/record"
)

// Tracker detects record changes by comparing current content hashes
// against persisted fingerprints.
//
// Persistence failures are logged, never fatal: a failed write means the
// next detection sees the same stale fingerprint and re-reports a change,
// which over-syncs but never misses a change.
type Tracker struct {
	store Store
}

// NewTracker creates a tracker over the given fingerprint store
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// DetectChanges computes current hashes and compares them to the stored
// fingerprint. A record with no prior fingerprint reports every dimension
// changed. When commit is true the new fingerprint is persisted; when
// false, detection is read-only.
func (t *Tracker) DetectChanges(ctx context.Context, rec *record.Record, recordID string, commit bool) ChangeSet {
	current := Compute(rec, recordID)

	stored, found, err := t.store.Load(ctx, recordID)
	if err != nil {
		slog.Warn("Failed to load fingerprint, treating record as changed",
			"record_id", recordID, "error", err)
		found = false
	}

	var changes ChangeSet
	if !found {
		changes = newRecordChangeSet()
	} else {
		changes = stored.Diff(current)
	}

	if commit && changes.Changed() {
		if err := t.store.Save(ctx, current); err != nil {
			slog.Warn("Failed to persist fingerprint", "record_id", recordID, "error", err)
		}
	}

	return changes
}

// ShouldSkip returns true only if the record was previously synced and its
// content is unchanged. Records with no prior fingerprint are never
// skipped.
func (t *Tracker) ShouldSkip(ctx context.Context, rec *record.Record, recordID string) bool {
	stored, found, err := t.store.Load(ctx, recordID)
	if err != nil || !found {
		return false
	}
	return !stored.Diff(Compute(rec, recordID)).Changed()
}

// Commit unconditionally recomputes and persists all hash fields plus
// timestamps. Called once the record's content has been durably written
// downstream, decoupling detection from confirmation.
func (t *Tracker) Commit(ctx context.Context, rec *record.Record, recordID string) error {
	return t.store.Save(ctx, Compute(rec, recordID))
}

// BatchDetect applies DetectChanges per record without committing.
// idMapping translates a record's id to the fingerprint key; records
// missing from the mapping use their own id. The result is keyed by
// remote record id.
func (t *Tracker) BatchDetect(
	ctx context.Context, records []*record.Record, idMapping map[string]string,
) map[string]ChangeSet {
	results := make(map[string]ChangeSet, len(records))
	for _, rec := range records {
		fingerprintID := rec.ID
		if mapped, ok := idMapping[rec.ID]; ok {
			fingerprintID = mapped
		}
		results[rec.ID] = t.DetectChanges(ctx, rec, fingerprintID, false)
	}
	return results
}
