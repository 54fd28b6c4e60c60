package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iiooiioo888/cs-pay/internal/config"
	"github.com/iiooiioo888/cs-pay/internal/engine"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// writeCatalog lays out a small catalog dir: four 97s and two 194s.
func writeCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"less_than_100.csv": "name,value,url\n" +
			"alpha,97,https://cards/alpha\n" +
			"bravo,97,https://cards/bravo\n" +
			"charlie,97,https://cards/charlie\n" +
			"delta,97,https://cards/delta\n",
		"less_than_200.csv": "name,value,url\n" +
			"echo,194,https://cards/echo\n" +
			"foxtrot,194,https://cards/foxtrot\n",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func testConfig(t *testing.T, catalogDir string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.CatalogDir = catalogDir
	cfg.LedgerPath = filepath.Join(t.TempDir(), "test.db")
	cfg.SnapshotDir = ""
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestSetup_BuildsStack(t *testing.T) {
	cfg := testConfig(t, writeCatalog(t))

	a, err := setup(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.Len(t, a.records, 6)

	res, err := a.ctrl.Split(context.Background(), dec("388"))
	require.NoError(t, err)
	assert.True(t, res.Total.Equal(dec("388")))
}

func TestSetup_RestartRestoresUsed(t *testing.T) {
	cfg := testConfig(t, writeCatalog(t))
	ctx := context.Background()

	a, err := setup(ctx, cfg)
	require.NoError(t, err)

	// consume both 194s and two 97s
	res1, err := a.ctrl.Split(ctx, dec("388"))
	require.NoError(t, err)
	res2, err := a.ctrl.Split(ctx, dec("388"))
	require.NoError(t, err)
	a.Close()

	consumed := make(map[string]bool)
	for _, r := range append(res1.Items, res2.Items...) {
		consumed[r.ID] = true
	}
	require.Len(t, consumed, 6)

	// a fresh boot must see the pool as empty
	b, err := setup(ctx, cfg)
	require.NoError(t, err)
	defer b.Close()

	_, err = b.ctrl.Split(ctx, dec("388"))
	require.Error(t, err)
	assert.True(t, engine.IsNotFound(err))
}

func TestSetup_SnapshotRoundTrip(t *testing.T) {
	cfg := testConfig(t, writeCatalog(t))
	cfg.SnapshotDir = filepath.Join(t.TempDir(), "snaps")
	ctx := context.Background()

	a, err := setup(ctx, cfg)
	require.NoError(t, err)
	a.Close()

	entries, err := os.ReadDir(cfg.SnapshotDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "first boot must write snapshots")

	// second boot restores from the snapshots and still splits correctly
	b, err := setup(ctx, cfg)
	require.NoError(t, err)
	defer b.Close()

	res, err := b.ctrl.Split(ctx, dec("388"))
	require.NoError(t, err)
	assert.True(t, res.Total.Equal(dec("388")))
}

func TestSetup_EmptyCatalogFails(t *testing.T) {
	cfg := testConfig(t, t.TempDir())

	_, err := setup(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestSetup_MemoryOnlyWithoutLedger(t *testing.T) {
	cfg := testConfig(t, writeCatalog(t))
	cfg.LedgerPath = ""

	a, err := setup(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	res, err := a.ctrl.Split(context.Background(), dec("388"))
	require.NoError(t, err)
	assert.True(t, res.Total.Equal(dec("388")))
}
