// Package fingerprint computes and persists content fingerprints so the
// sync engine can detect whether a remote record actually changed since it
// was last persisted.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/stacklok/content-sync/internal/record"
)

// Change dimensions reported in a ChangeSet
const (
	DimensionTitle      = "title"
	DimensionProperties = "properties"
	DimensionBlocks     = "blocks"
	DimensionTime       = "time"
)

// ChangeSet maps a changed dimension to a human-readable detail.
// An empty ChangeSet means the record is unchanged.
type ChangeSet map[string]string

// Changed reports whether any dimension changed
func (c ChangeSet) Changed() bool {
	return len(c) > 0
}

// Fingerprint summarizes a record's synchronizable content. One exists per
// previously synced record; it is overwritten in place on every
// confirmed-changed sync.
type Fingerprint struct {
	// RecordID is the remote record identifier
	RecordID string `json:"record_id"`

	// ContentHash is the combined hash over all dimensions
	ContentHash string `json:"content_hash"`

	// TitleHash, PropertiesHash and BlocksHash are per-dimension hashes
	// so diagnostics can report which dimension changed
	TitleHash      string `json:"title_hash"`
	PropertiesHash string `json:"properties_hash"`
	BlocksHash     string `json:"blocks_hash"`

	// LastEditedTime is the remote timestamp captured at fingerprint time
	LastEditedTime string `json:"last_edited_time,omitempty"`

	// LastCheckedAt is when the fingerprint was last recomputed
	LastCheckedAt time.Time `json:"last_checked_at"`
}

// Compute derives a fingerprint from a record. Hashing is a pure function
// of (title, properties, blocks, lastEditedTime): recomputation is
// deterministic and never fails, since the inputs are already in memory.
func Compute(rec *record.Record, recordID string) *Fingerprint {
	title := rec.Title
	properties := mustJSON(rec.Properties)
	blocks := mustJSON(rec.Blocks)

	// The separator prevents ambiguous concatenation across
	// variable-length fields
	combined := title + "|" + properties + "|" + rec.LastEditedTime + "|" + blocks

	return &Fingerprint{
		RecordID:       recordID,
		ContentHash:    hashString(combined),
		TitleHash:      hashString(title),
		PropertiesHash: hashString(properties),
		BlocksHash:     hashString(blocks),
		LastEditedTime: rec.LastEditedTime,
		LastCheckedAt:  time.Now(),
	}
}

// Diff compares a stored fingerprint against a freshly computed one and
// returns the set of changed dimensions.
func (f *Fingerprint) Diff(current *Fingerprint) ChangeSet {
	changes := make(ChangeSet)
	if f.TitleHash != current.TitleHash {
		changes[DimensionTitle] = "title content changed"
	}
	if f.PropertiesHash != current.PropertiesHash {
		changes[DimensionProperties] = "property values changed"
	}
	if f.BlocksHash != current.BlocksHash {
		changes[DimensionBlocks] = "block content changed"
	}
	if f.LastEditedTime != current.LastEditedTime {
		changes[DimensionTime] = "last edited time changed from " + f.LastEditedTime + " to " + current.LastEditedTime
	}
	return changes
}

// newRecordChangeSet marks every dimension changed for a record with no
// prior fingerprint
func newRecordChangeSet() ChangeSet {
	return ChangeSet{
		DimensionTitle:      "no previous fingerprint",
		DimensionProperties: "no previous fingerprint",
		DimensionBlocks:     "no previous fingerprint",
		DimensionTime:       "no previous fingerprint",
	}
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// mustJSON serializes an in-memory structure. encoding/json sorts map keys,
// keeping the result deterministic for identical content.
func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
