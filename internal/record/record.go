// Package record defines the content record model shared across the sync engine.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Record represents a single remote content record in its synchronizable form.
// Properties and Blocks are kept as decoded JSON structures; rendering them
// into destination markup is out of scope for the sync engine.
type Record struct {
	// ID is the remote record identifier
	ID string `json:"id"`

	// Title is the record's display title
	Title string `json:"title"`

	// Properties holds the record's structured property values
	Properties map[string]any `json:"properties,omitempty"`

	// Blocks holds the record's content blocks
	Blocks []map[string]any `json:"blocks,omitempty"`

	// LastEditedTime is the remote system's last-edited timestamp (RFC 3339)
	LastEditedTime string `json:"last_edited_time,omitempty"`
}

// Filter narrows a collection query on the remote API.
type Filter struct {
	// Query is a free-text search term
	Query string `json:"query,omitempty"`

	// Properties restricts results to records matching property values
	Properties map[string]string `json:"properties,omitempty"`

	// UpdatedAfter restricts results to records edited after the given
	// RFC 3339 timestamp
	UpdatedAfter string `json:"updated_after,omitempty"`
}

// Hash returns a stable hash of the filter, used for memoization keys.
// Marshalling a nil-free struct through encoding/json is deterministic
// because map keys are sorted.
func (f Filter) Hash() string {
	data, err := json.Marshal(f)
	if err != nil {
		// A Filter contains only strings; this cannot happen in practice.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ApproximateSize returns the serialized size of the record in bytes.
// Used for cache eligibility checks and bytes-saved accounting.
func (r *Record) ApproximateSize() int {
	data, err := json.Marshal(r)
	if err != nil {
		return 0
	}
	return len(data)
}
