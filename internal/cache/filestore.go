package cache

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

// storedEntry is the on-disk envelope for one L2 entry. The original key
// is kept inside the file because filenames are hashed.
type storedEntry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FileStore is a file-backed KVStore. One JSON file per key, written
// atomically via temp-file + rename. Suitable for single-host deployments;
// substitute any durable key/value service for shared ones.
type FileStore struct {
	baseDir string
}

// NewFileStore creates a file-backed L2 store rooted at baseDir
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Get loads a value, treating missing, corrupt, or expired files as misses.
// Expired files are removed on read.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	path := s.pathFor(key)

	// #nosec G304 -- path is derived from a hashed key under baseDir
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var entry storedEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Corrupt entry: drop it and report a miss
		_ = os.Remove(path)
		return nil, false, nil
	}

	if time.Now().After(entry.ExpiresAt) {
		_ = os.Remove(path)
		return nil, false, nil
	}

	return entry.Value, true, nil
}

// Set writes a value atomically
func (s *FileStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now()
	entry := storedEntry{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	path := s.pathFor(key)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary cache file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}

	return nil
}

// DeletePattern removes entries whose key matches the glob. Each file is
// opened to recover its original key since filenames are hashed.
func (s *FileStore) DeletePattern(_ context.Context, pattern string) (int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read cache directory: %w", err)
	}

	count := 0
	for _, dirEntry := range entries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.baseDir, dirEntry.Name())

		// #nosec G304 -- path is constrained to baseDir
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var entry storedEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			// Corrupt entries are purged as part of pattern cleanup
			if os.Remove(path) == nil {
				count++
			}
			continue
		}

		if MatchPattern(pattern, entry.Key) {
			if os.Remove(path) == nil {
				count++
			}
		}
	}

	return count, nil
}

// pathFor maps a key to its file path. Keys are hashed so arbitrary key
// content cannot escape the cache directory.
func (s *FileStore) pathFor(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.baseDir, hex.EncodeToString(sum[:16])+".json")
}
