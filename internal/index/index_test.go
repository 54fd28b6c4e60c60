package index

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iiooiioo888/cs-pay/internal/catalog"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func rec(id, value string, bucket int) catalog.Record {
	return catalog.Record{ID: id, Name: id, Value: dec(value), URL: "u", Bucket: bucket}
}

func buildIndex(records ...catalog.Record) *Index {
	ix := New(10, 490)
	ix.Build(records)
	return ix
}

func TestLargest_BinarySearch(t *testing.T) {
	ix := buildIndex(
		rec("100-00000", "91", 100),
		rec("100-00001", "95", 100),
		rec("100-00002", "97", 100),
		rec("100-00003", "99.50", 100),
	)

	e, ok := ix.Largest(100, dec("98"), nil)
	require.True(t, ok)
	assert.Equal(t, "100-00002", e.ID)
	assert.True(t, e.Value.Equal(dec("97")))

	// budget below everything
	_, ok = ix.Largest(100, dec("90"), nil)
	assert.False(t, ok)

	// budget above everything picks the top
	e, ok = ix.Largest(100, dec("500"), nil)
	require.True(t, ok)
	assert.True(t, e.Value.Equal(dec("99.50")))
}

func TestLargest_TieBreakSmallestID(t *testing.T) {
	ix := buildIndex(
		rec("100-00002", "97", 100),
		rec("100-00000", "97", 100),
		rec("100-00001", "97", 100),
	)

	e, ok := ix.Largest(100, dec("97"), nil)
	require.True(t, ok)
	assert.Equal(t, "100-00000", e.ID)

	// skipping the winner falls to the next smallest ID at the same value
	e, ok = ix.Largest(100, dec("97"), func(id string) bool { return id == "100-00000" })
	require.True(t, ok)
	assert.Equal(t, "100-00001", e.ID)
}

func TestSuspendResumeDrop(t *testing.T) {
	ix := buildIndex(rec("100-00000", "97", 100), rec("100-00001", "95", 100))

	ix.Suspend(100, "100-00000")
	e, ok := ix.Largest(100, dec("100"), nil)
	require.True(t, ok)
	assert.Equal(t, "100-00001", e.ID, "suspended entry must be invisible")

	ix.Resume(100, "100-00000")
	e, ok = ix.Largest(100, dec("100"), nil)
	require.True(t, ok)
	assert.Equal(t, "100-00000", e.ID, "resumed entry is visible again")

	ix.Drop(100, "100-00000")
	assert.False(t, ix.Live(100, "100-00000"))
	ix.Resume(100, "100-00000") // resurrection must not work
	assert.False(t, ix.Live(100, "100-00000"))
}

func TestCompaction_PreservesOrderAndLookup(t *testing.T) {
	var records []catalog.Record
	for i := 0; i < 64; i++ {
		records = append(records, rec(catalog.RecordID(100, i), fmt.Sprintf("9%d.%02d", i%10, i), 100))
	}
	ix := buildIndex(records...)

	// drop enough to trigger compaction
	for i := 0; i < 40; i++ {
		ix.Drop(100, catalog.RecordID(100, i))
	}

	for i := 40; i < 64; i++ {
		id := catalog.RecordID(100, i)
		assert.True(t, ix.Live(100, id), "surviving entry %s must stay live", id)
	}
	snap := ix.Snapshot(100)
	assert.Len(t, snap, 24)
	for i := 1; i < len(snap); i++ {
		c := snap[i-1].Value.Cmp(snap[i].Value)
		assert.LessOrEqual(t, c, 0, "snapshot must stay value-sorted")
	}
}

func TestSmallestAvailable(t *testing.T) {
	ix := buildIndex(
		rec("010-00000", "3.50", 10),
		rec("100-00000", "97", 100),
	)

	v, ok := ix.SmallestAvailable(nil)
	require.True(t, ok)
	assert.True(t, v.Equal(dec("3.50")))

	ix.Drop(10, "010-00000")
	v, ok = ix.SmallestAvailable(nil)
	require.True(t, ok)
	assert.True(t, v.Equal(dec("97")))

	ix.Drop(100, "100-00000")
	_, ok = ix.SmallestAvailable(nil)
	assert.False(t, ok)
}

func TestBucketOrder(t *testing.T) {
	ix := New(10, 490)

	order := ix.BucketOrder(dec("95"), 0)
	require.NotEmpty(t, order)
	assert.Equal(t, 100, order[0], "bucket bracketing the budget comes first")
	assert.Equal(t, 10, order[len(order)-1])

	shifted := ix.BucketOrder(dec("95"), 1)
	assert.Equal(t, 90, shifted[0], "offset shifts the starting bucket down")

	capped := ix.BucketOrder(dec("4000"), 0)
	assert.Equal(t, 490, capped[0], "budgets above the range start at the top bucket")
}

func TestInstallSorted_MatchesBuild(t *testing.T) {
	entries := []Entry{
		{ID: "100-00000", Value: dec("91")},
		{ID: "100-00001", Value: dec("97")},
	}
	ix := New(10, 490)
	ix.InstallSorted(100, entries)

	e, ok := ix.Largest(100, dec("97"), nil)
	require.True(t, ok)
	assert.Equal(t, "100-00001", e.ID)
}
