// Package index maintains per-bucket presorted views of catalog records for
// the splitting engine's "largest value not exceeding the budget" lookups.
//
// Each bucket holds its entries sorted ascending by (value, ID). Lookup is a
// binary search over that order, so the common case is O(log n). Entries are
// never re-sorted when records leave the pool: a record transitioning out of
// Unused is suspended (reservation, reversible) or dropped (commit, terminal)
// in place, and dropped entries are compacted away once a bucket accumulates
// enough of them.
//
// The index is a lookup accelerator, not a source of truth. The allocation
// store arbitrates record state; a racing lookup that returns an entry
// already reserved elsewhere is resolved by the store's compare-and-set, not
// here.
//
// Rebuilds happen only on catalog reload. Snapshots of the sorted order can
// be exported for the file cache and installed back at startup to skip the
// initial sort.
package index
