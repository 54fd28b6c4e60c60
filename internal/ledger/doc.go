// Package ledger provides SQLite-backed durable storage for the allocation
// ledgers.
//
// The ledger is append-only:
//   - records: catalog membership (one row per registered record)
//   - unused: pool membership events (a row when a record enters the pool)
//   - used: terminal allocations (one row per committed record, ever)
//
// Reservations are deliberately NOT persisted. A reservation is a transient
// in-memory hold during one attempt; persisting it would force compensation
// writes on every rollback and make "failure leaves the ledgers unchanged"
// impossible to guarantee. Pool membership on restart is therefore exactly:
// registered records minus the used ledger.
//
// All ordering uses a logical sequence number stamped by the allocation
// store's clock, never wall-clock time, so rebuilds are deterministic.
// Reads order by seq ASC, record_id ASC COLLATE BINARY for the same reason.
//
// Database configuration:
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: used/unused rows must reference a registered record
package ledger
