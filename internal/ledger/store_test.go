package ledger

import (
	"context"
	"path/filepath"
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

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecords() []catalog.Record {
	return []catalog.Record{
		{ID: catalog.RecordID(100, 0), Name: "a", Value: dec("97"), URL: "u/a", Bucket: 100},
		{ID: catalog.RecordID(100, 1), Name: "b", Value: dec("97"), URL: "u/b", Bucket: 100},
		{ID: catalog.RecordID(200, 0), Name: "c", Value: dec("194"), URL: "u/c", Bucket: 200},
	}
}

func seqFrom(start int64) func() int64 {
	n := start
	return func() int64 {
		n++
		return n
	}
}

func TestRegisterRecords_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterRecords(ctx, testRecords(), seqFrom(0)))
	require.NoError(t, s.RegisterRecords(ctx, testRecords(), seqFrom(100)))

	recs, err := s.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 3, "re-registration must not duplicate records")

	state, err := s.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, state.Registered)
	assert.EqualValues(t, 3, state.LastSeq, "second registration must not append membership rows")
}

func TestAppendUsed_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterRecords(ctx, testRecords(), seqFrom(0)))

	txn := "txn-1"
	items := []UsedItem{
		{RecordID: catalog.RecordID(100, 0), Seq: 10},
		{RecordID: catalog.RecordID(100, 1), Seq: 11},
	}
	require.NoError(t, s.AppendUsed(ctx, txn, dec("194"), items))

	ids, err := s.UsedIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{catalog.RecordID(100, 0), catalog.RecordID(100, 1)}, ids)

	rows, err := s.UsedByTxn(ctx, txn)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Target.Equal(dec("194")))
	assert.Equal(t, txn, rows[0].TxnID)
}

func TestAppendUsed_DuplicateRecordRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterRecords(ctx, testRecords(), seqFrom(0)))
	require.NoError(t, s.AppendUsed(ctx, "txn-1", dec("97"),
		[]UsedItem{{RecordID: catalog.RecordID(100, 0), Seq: 10}}))

	// second commit of the same record violates UNIQUE(record_id)
	err := s.AppendUsed(ctx, "txn-2", dec("97"),
		[]UsedItem{{RecordID: catalog.RecordID(100, 0), Seq: 11}})
	require.Error(t, err)

	ids, err := s.UsedIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1, "failed commit must not add rows")
}

func TestAppendUsed_AllOrNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterRecords(ctx, testRecords(), seqFrom(0)))
	require.NoError(t, s.AppendUsed(ctx, "txn-1", dec("97"),
		[]UsedItem{{RecordID: catalog.RecordID(100, 1), Seq: 10}}))

	// batch containing an already-used record fails entirely
	err := s.AppendUsed(ctx, "txn-2", dec("291"), []UsedItem{
		{RecordID: catalog.RecordID(100, 0), Seq: 11},
		{RecordID: catalog.RecordID(100, 1), Seq: 12},
	})
	require.Error(t, err)

	ids, err := s.UsedIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{catalog.RecordID(100, 1)}, ids,
		"partial batch must be rolled back")
}

func TestReplay_RebuildsPoolState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.RegisterRecords(ctx, testRecords(), seqFrom(0)))
	require.NoError(t, s.AppendUsed(ctx, "txn-1", dec("194"),
		[]UsedItem{{RecordID: catalog.RecordID(200, 0), Seq: 50}}))
	require.NoError(t, s.Close())

	// reopen and replay
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	state, err := s.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, state.Registered)
	assert.Equal(t, []string{catalog.RecordID(200, 0)}, state.UsedIDs)
	assert.EqualValues(t, 50, state.LastSeq)
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterRecords(ctx, testRecords(), seqFrom(0)))
	require.NoError(t, s.AppendUsed(ctx, "txn-1", dec("97"),
		[]UsedItem{{RecordID: catalog.RecordID(100, 0), Seq: 10}}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, BucketStats{Bucket: 100, Total: 2, Used: 1, Remaining: 1}, stats[0])
	assert.Equal(t, BucketStats{Bucket: 200, Total: 1, Used: 0, Remaining: 1}, stats[1])
}

func TestAppendUnused_AdminReset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterRecords(ctx, testRecords(), seqFrom(0)))
	require.NoError(t, s.AppendUnused(ctx, "txn-admin", []UnusedItem{
		{RecordID: catalog.RecordID(100, 0), Seq: 99, Reason: ReasonAdminReset},
	}))

	state, err := s.Replay(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 99, state.LastSeq)
}
