package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iiooiioo888/cs-pay/internal/index"
)

// Snapshot failure modes. Both mean "fall back to sorting in memory".
var (
	ErrSnapshotMissing = errors.New("snapshot not found")
	ErrSnapshotStale   = errors.New("snapshot fingerprint mismatch")
)

// Snapshot is one bucket's sorted index, tagged with the catalog
// fingerprint it was built from.
type Snapshot struct {
	Fingerprint string        `json:"fingerprint"`
	Bucket      int           `json:"bucket"`
	Entries     []index.Entry `json:"entries"`
}

// FileCache persists sorted-index snapshots, one JSON file per bucket.
type FileCache struct {
	dir string
}

// NewFileCache creates a file cache rooted at dir, creating it if needed.
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileCache{dir: dir}, nil
}

func (f *FileCache) path(bucket int) string {
	return filepath.Join(f.dir, fmt.Sprintf("index_%d.json", bucket))
}

// Write persists one bucket snapshot. The file is written to a temp name
// and renamed, so readers never observe a torn snapshot.
func (f *FileCache) Write(snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot bucket %d: %w", snap.Bucket, err)
	}

	tmp := f.path(snap.Bucket) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot bucket %d: %w", snap.Bucket, err)
	}
	if err := os.Rename(tmp, f.path(snap.Bucket)); err != nil {
		return fmt.Errorf("rename snapshot bucket %d: %w", snap.Bucket, err)
	}
	return nil
}

// Load reads one bucket snapshot and verifies it was built from the catalog
// identified by fingerprint. Returns ErrSnapshotMissing or ErrSnapshotStale
// when the caller should sort from scratch instead.
func (f *FileCache) Load(bucket int, fingerprint string) ([]index.Entry, error) {
	data, err := os.ReadFile(f.path(bucket))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSnapshotMissing
		}
		return nil, fmt.Errorf("read snapshot bucket %d: %w", bucket, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// a corrupt snapshot is as good as a missing one
		return nil, fmt.Errorf("decode snapshot bucket %d: %w", bucket, err)
	}
	if snap.Fingerprint != fingerprint {
		return nil, ErrSnapshotStale
	}
	return snap.Entries, nil
}

// Invalidate removes every snapshot file. Called on catalog reload.
func (f *FileCache) Invalidate() error {
	matches, err := filepath.Glob(filepath.Join(f.dir, "index_*.json"))
	if err != nil {
		return fmt.Errorf("glob snapshots: %w", err)
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove snapshot %s: %w", path, err)
		}
	}
	return nil
}
