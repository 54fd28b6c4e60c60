package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iiooiioo888/cs-pay/internal/index"
)

func testSnapshot(fingerprint string) Snapshot {
	return Snapshot{
		Fingerprint: fingerprint,
		Bucket:      100,
		Entries: []index.Entry{
			{ID: "100-00000", Value: dec("91")},
			{ID: "100-00001", Value: dec("97")},
		},
	}
}

func TestFileCache_RoundTrip(t *testing.T) {
	fc, err := NewFileCache(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fc.Write(testSnapshot("fp-1")))

	entries, err := fc.Load(100, "fp-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "100-00000", entries[0].ID)
	assert.True(t, entries[1].Value.Equal(dec("97")))
}

func TestFileCache_Missing(t *testing.T) {
	fc, err := NewFileCache(t.TempDir())
	require.NoError(t, err)

	_, err = fc.Load(100, "fp-1")
	assert.ErrorIs(t, err, ErrSnapshotMissing)
}

func TestFileCache_StaleFingerprint(t *testing.T) {
	fc, err := NewFileCache(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fc.Write(testSnapshot("fp-old")))

	_, err = fc.Load(100, "fp-new")
	assert.ErrorIs(t, err, ErrSnapshotStale,
		"catalog reload must invalidate snapshots from the previous load")
}

func TestFileCache_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	fc, err := NewFileCache(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index_100.json"), []byte("{not json"), 0o644))

	_, err = fc.Load(100, "fp-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSnapshotMissing)
}

func TestFileCache_Invalidate(t *testing.T) {
	fc, err := NewFileCache(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fc.Write(testSnapshot("fp-1")))
	require.NoError(t, fc.Invalidate())

	_, err = fc.Load(100, "fp-1")
	assert.ErrorIs(t, err, ErrSnapshotMissing)
}
