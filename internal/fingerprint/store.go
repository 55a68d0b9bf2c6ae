package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

// Store persists fingerprints per record id
type Store interface {
	// Load returns the stored fingerprint, or found=false if the record
	// was never synced
	Load(ctx context.Context, recordID string) (fp *Fingerprint, found bool, err error)

	// Save overwrites the fingerprint for its record id
	Save(ctx context.Context, fp *Fingerprint) error

	// DeleteOlderThan removes fingerprints last checked before the cutoff
	// (retention cleanup), returning the number removed
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// fileStore is a file-backed Store: one JSON file per record, written
// atomically via temp-file + rename.
type fileStore struct {
	baseDir string
}

// NewFileStore creates a file-backed fingerprint store rooted at baseDir
func NewFileStore(baseDir string) (Store, error) {
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create fingerprint directory: %w", err)
	}
	return &fileStore{baseDir: baseDir}, nil
}

func (s *fileStore) Load(_ context.Context, recordID string) (*Fingerprint, bool, error) {
	path := s.pathFor(recordID)

	// #nosec G304 -- path is derived from a hashed record id under baseDir
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read fingerprint for record '%s': %w", recordID, err)
	}

	var fp Fingerprint
	if err := json.Unmarshal(data, &fp); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal fingerprint for record '%s': %w", recordID, err)
	}
	return &fp, true, nil
}

func (s *fileStore) Save(_ context.Context, fp *Fingerprint) error {
	data, err := json.MarshalIndent(fp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal fingerprint for record '%s': %w", fp.RecordID, err)
	}

	path := s.pathFor(fp.RecordID)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary fingerprint file for record '%s': %w", fp.RecordID, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename fingerprint file for record '%s': %w", fp.RecordID, err)
	}
	return nil
}

func (s *fileStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read fingerprint directory: %w", err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.baseDir, entry.Name())

		// #nosec G304 -- path is constrained to baseDir
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var fp Fingerprint
		if err := json.Unmarshal(data, &fp); err != nil {
			// Unparsable fingerprints are purged by the retention sweep
			if os.Remove(path) == nil {
				count++
			}
			continue
		}

		if fp.LastCheckedAt.Before(cutoff) {
			if os.Remove(path) == nil {
				count++
			}
		}
	}

	return count, nil
}

// pathFor maps a record id to its file path. Ids are hashed since remote
// identifiers may contain characters unsafe for filenames.
func (s *fileStore) pathFor(recordID string) string {
	sum := sha256.Sum256([]byte(recordID))
	return filepath.Join(s.baseDir, hex.EncodeToString(sum[:16])+".json")
}
