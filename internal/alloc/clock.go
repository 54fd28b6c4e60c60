package alloc

import "sync/atomic"

// Clock is the monotonic logical clock stamping ledger appends.
//
// All ledger ordering uses seq numbers from this clock, never wall-clock
// time, so rebuilding the pool after a restart is deterministic.
//
// Thread-safety: safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming strictly after start. Used on restart
// to continue past the highest sequence found in the ledgers.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
// Each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
