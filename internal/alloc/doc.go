// Package alloc implements the allocation store: the authoritative state of
// every record (Unused/Reserved/Used) and the transaction protocol guarding
// transitions.
//
// State machine, monotonic per attempt:
//
//	Unused -> Reserved -> Used   (commit, terminal)
//	Unused -> Reserved -> Unused (rollback)
//
// Reserve is an atomic compare-and-set; exactly one in-flight transaction
// can hold a record Reserved at any instant. Commit and Rollback operate on
// whole candidate sets with IDs processed in ascending order, so concurrent
// multi-record transactions cannot deadlock.
//
// Commits are durable: the used ledger rows are written in one SQL
// transaction before the in-memory flip to Used, stamped with sequence
// numbers from the store's logical clock. Reservations are memory-only; a
// rollback therefore leaves the ledgers untouched.
package alloc
