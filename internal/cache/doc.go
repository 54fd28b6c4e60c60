// Package cache implements the two cache tiers in front of the splitting
// engine.
//
// The memory cache holds recently computed, UNCONFIRMED candidate
// combinations keyed by a coarse rounding of the target value. Records are
// exclusive, so a cached combination may have been consumed by the time it
// is read back; every hit must be revalidated against the allocation store
// before use. A hit that fails revalidation falls through to a fresh search,
// never silently returns a stale allocation. The cache itself knows nothing
// about record state - it stores IDs and sums only.
//
// The file cache persists the sorted per-bucket index snapshots so a restart
// skips the initial sort. Snapshots are tagged with the catalog fingerprint
// and rejected when it changes. Purely a startup-latency optimization; never
// a source of truth for allocation state.
package cache
