package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iiooiioo888/cs-pay/internal/alloc"
	"github.com/iiooiioo888/cs-pay/internal/catalog"
	"github.com/iiooiioo888/cs-pay/internal/index"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// pool builds an engine over in-memory records with the given values.
// IDs are assigned per bucket in slice order, so equal values get
// lexicographically increasing IDs.
func pool(t *testing.T, tolerance string, values ...string) (*Engine, *alloc.Store) {
	t.Helper()

	ordinals := make(map[int]int)
	var records []catalog.Record
	for _, v := range values {
		value := dec(v)
		bucket := catalog.BucketFor(value, 10, 490)
		rec := catalog.Record{
			ID:     catalog.RecordID(bucket, ordinals[bucket]),
			Name:   "rec-" + v,
			Value:  value,
			URL:    "https://cards/" + v,
			Bucket: bucket,
		}
		ordinals[bucket]++
		records = append(records, rec)
	}

	ix := index.New(10, 490)
	ix.Build(records)

	store := alloc.NewStore(nil, alloc.NewClock())
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	store.Register(ids)

	return New(ix, store, records, dec(tolerance)), store
}

func values(c Candidate) []string {
	out := make([]string, len(c.Items))
	for i, r := range c.Items {
		out[i] = r.Value.String()
	}
	return out
}

func TestSplit_ExactMatch(t *testing.T) {
	// pool {194, 194, 97, 97}, target 388 -> {194, 194}, error 0
	e, _ := pool(t, "0.5", "194", "194", "97", "97")

	c, err := e.Split(context.Background(), dec("388"), Budget{})
	require.NoError(t, err)

	assert.Equal(t, []string{"194", "194"}, values(c))
	assert.True(t, c.Total.Equal(dec("388")))
	assert.True(t, c.Shortfall.IsZero())
}

func TestSplit_BestAchievable(t *testing.T) {
	// pool of 97s, target 300: three 97s sum to 291, error 9 - no closer
	// subset exists, so with a permissive tolerance that is the answer
	e, _ := pool(t, "10", "97", "97", "97", "97", "97")

	c, err := e.Split(context.Background(), dec("300"), Budget{})
	require.NoError(t, err)

	assert.Equal(t, []string{"97", "97", "97"}, values(c))
	assert.True(t, c.Total.Equal(dec("291")))
	assert.True(t, c.Shortfall.Equal(dec("9")))
}

func TestSplit_SumNeverExceedsTarget(t *testing.T) {
	e, _ := pool(t, "500", "194", "150", "97", "45", "12.50", "3.99")

	for _, target := range []string{"300", "388", "199.99", "46", "3.99"} {
		c, err := e.Split(context.Background(), dec(target), Budget{})
		require.NoError(t, err, "target %s", target)
		assert.True(t, c.Total.LessThanOrEqual(dec(target)),
			"target %s: total %s exceeds it", target, c.Total)
		assert.False(t, c.Shortfall.IsNegative())
		e.Release(c)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	// equal values tie-break toward the smallest ID, so two identical
	// pools must produce identical candidates
	e1, _ := pool(t, "0.5", "97", "97", "97", "194")
	e2, _ := pool(t, "0.5", "97", "97", "97", "194")

	c1, err := e1.Split(context.Background(), dec("291"), Budget{})
	require.NoError(t, err)
	c2, err := e2.Split(context.Background(), dec("291"), Budget{})
	require.NoError(t, err)

	assert.Equal(t, c1.IDs, c2.IDs)
	assert.Equal(t, catalog.RecordID(100, 0), c1.IDs[0],
		"smallest ID wins the tie-break")
}

func TestSplit_HoldsReservations(t *testing.T) {
	e, store := pool(t, "0.5", "194", "194")

	c, err := e.Split(context.Background(), dec("388"), Budget{})
	require.NoError(t, err)

	for _, id := range c.IDs {
		st, ok := store.StateOf(id)
		require.True(t, ok)
		assert.Equal(t, alloc.Reserved, st, "candidate records stay reserved until commit/release")
	}

	e.Release(c)
	assert.True(t, store.AllUnused(c.IDs))
}

func TestSplit_NotFoundRollsBack(t *testing.T) {
	// nothing fits within tolerance: two 97s reach 194, error 6
	e, store := pool(t, "0.5", "97", "97")

	_, err := e.Split(context.Background(), dec("200"), Budget{})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	unused, reserved, used := store.Counts()
	assert.Equal(t, 2, unused, "failed split must leave the pool untouched")
	assert.Zero(t, reserved)
	assert.Zero(t, used)
}

func TestSplit_NothingFits(t *testing.T) {
	e, _ := pool(t, "0.5", "194", "194")

	_, err := e.Split(context.Background(), dec("50"), Budget{})
	assert.True(t, IsNotFound(err))
}

func TestSplit_SkipsContendedRecords(t *testing.T) {
	e, store := pool(t, "0.5", "194", "194")

	// another request holds the tie-break winner
	require.NoError(t, store.Reserve(catalog.RecordID(200, 0)))

	exclude := make(map[string]struct{})
	c, err := e.Split(context.Background(), dec("194"), Budget{Exclude: exclude})
	require.NoError(t, err)

	assert.Equal(t, []string{catalog.RecordID(200, 1)}, c.IDs,
		"conflict falls back to the next record at the same value")
	assert.Contains(t, exclude, catalog.RecordID(200, 0),
		"contended IDs are recorded for the caller's later attempts")
}

func TestSplit_ItemCap(t *testing.T) {
	e, _ := pool(t, "300", "97", "97", "97", "97", "97", "97")

	c, err := e.Split(context.Background(), dec("582"), Budget{MaxItems: 3})
	require.NoError(t, err)
	assert.Len(t, c.Items, 3)
	assert.True(t, c.Total.Equal(dec("291")))
}

func TestSplit_UsedRecordsNeverReappear(t *testing.T) {
	e, store := pool(t, "0.5", "194", "194", "97", "97")
	ctx := context.Background()

	c, err := e.Split(ctx, dec("388"), Budget{})
	require.NoError(t, err)
	require.NoError(t, e.Commit(ctx, "txn-1", dec("388"), c))

	// the 194s are gone; the same target must now fail (97+97=194 only
	// reaches half) rather than reuse a committed record
	_, err = e.Split(ctx, dec("388"), Budget{})
	assert.True(t, IsNotFound(err))

	c2, err := e.Split(ctx, dec("194"), Budget{})
	require.NoError(t, err)
	assert.Equal(t, []string{"97", "97"}, values(c2))

	_, _, used := store.Counts()
	assert.Equal(t, 2, used)
}

func TestCommit_ConflictNamesFlippedRecord(t *testing.T) {
	e, store := pool(t, "0.5", "194", "194")
	ctx := context.Background()

	c, err := e.Split(ctx, dec("388"), Budget{})
	require.NoError(t, err)

	// a ledger replay flips one held record to Used before the commit
	store.RestoreUsed(c.IDs[:1])

	err = e.Commit(ctx, "txn-1", dec("388"), c)
	require.True(t, IsConflict(err))

	var se *SplitError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, CodeConflict, se.Code)
	assert.Equal(t, c.IDs[0], se.RecordID)
}

func TestSplit_ContextCancelled(t *testing.T) {
	e, store := pool(t, "0.5", "194", "97")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Split(ctx, dec("291"), Budget{})
	require.ErrorIs(t, err, context.Canceled)

	unused, reserved, _ := store.Counts()
	assert.Equal(t, 2, unused, "cancellation mid-attempt still completes rollback")
	assert.Zero(t, reserved)
}

func TestProbe_DoesNotReserve(t *testing.T) {
	e, store := pool(t, "0.5", "194", "194")

	c, ok := e.Probe(dec("388"), Budget{})
	require.True(t, ok)
	assert.True(t, c.Total.Equal(dec("388")))

	unused, reserved, _ := store.Counts()
	assert.Equal(t, 2, unused, "probe must leave no reservations behind")
	assert.Zero(t, reserved)
}

func TestProbe_RespectsTolerance(t *testing.T) {
	e, _ := pool(t, "0.5", "97", "97")

	_, ok := e.Probe(dec("200"), Budget{})
	assert.False(t, ok, "probe result outside tolerance is worthless for the cache")
}
