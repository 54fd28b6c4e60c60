package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/iiooiioo888/cs-pay/internal/alloc"
	"github.com/iiooiioo888/cs-pay/internal/catalog"
	"github.com/iiooiioo888/cs-pay/internal/index"
)

// DefaultMaxItems caps candidate size when the budget does not say otherwise.
const DefaultMaxItems = 8

// DefaultLookahead is the default compensation swap budget (k).
const DefaultLookahead = 3

// Budget bounds one search attempt.
type Budget struct {
	// MaxItems caps the candidate size. Zero means DefaultMaxItems.
	MaxItems int

	// BucketOffset shifts the starting bucket of the exploration order
	// down by whole buckets. Controller retries use it to vary the
	// search between attempts.
	BucketOffset int

	// Lookahead is the compensation swap budget k. Zero means
	// DefaultLookahead.
	Lookahead int

	// Exclude holds record IDs this request must not touch again. The
	// engine ADDS every contended ID it encounters, so a controller
	// sharing the map across attempts never re-fights a lost
	// reservation.
	Exclude map[string]struct{}
}

func (b *Budget) maxItems() int {
	if b.MaxItems > 0 {
		return b.MaxItems
	}
	return DefaultMaxItems
}

func (b *Budget) lookahead() int {
	if b.Lookahead > 0 {
		return b.Lookahead
	}
	return DefaultLookahead
}

// Candidate is a reserved, uncommitted combination. The records listed are
// held Reserved by this attempt until Commit or Release.
type Candidate struct {
	IDs   []string
	Items []catalog.Record

	// Total is the combination's sum; never exceeds the target.
	Total decimal.Decimal

	// Shortfall is target minus Total; never negative.
	Shortfall decimal.Decimal
}

// Engine runs the split search against a presorted index and the allocation
// store. Safe for concurrent use: all shared state lives in the index and
// the store, both of which arbitrate their own access.
type Engine struct {
	index     *index.Index
	store     *alloc.Store
	records   map[string]catalog.Record
	tolerance decimal.Decimal
}

// New creates an engine over the given record set.
func New(ix *index.Index, store *alloc.Store, records []catalog.Record, tolerance decimal.Decimal) *Engine {
	byID := make(map[string]catalog.Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	return &Engine{
		index:     ix,
		store:     store,
		records:   byID,
		tolerance: tolerance,
	}
}

// Tolerance returns the configured acceptable gap.
func (e *Engine) Tolerance() decimal.Decimal {
	return e.tolerance
}

// Record looks up a catalog record by ID.
func (e *Engine) Record(id string) (catalog.Record, bool) {
	r, ok := e.records[id]
	return r, ok
}

// Split searches for a combination summing to at most target within the
// configured tolerance. On success the returned candidate's records are
// Reserved and owned by the caller, who must Commit or Release them. On any
// error the engine has already rolled its reservations back.
func (e *Engine) Split(ctx context.Context, target decimal.Decimal, b Budget) (Candidate, error) {
	if b.Exclude == nil {
		b.Exclude = make(map[string]struct{})
	}
	skip := func(id string) bool {
		_, ok := b.Exclude[id]
		return ok
	}

	var picked []catalog.Record
	remaining := target

	for len(picked) < b.maxItems() {
		if err := ctx.Err(); err != nil {
			e.release(picked)
			return Candidate{}, fmt.Errorf("split aborted: %w", err)
		}

		entry, ok := e.search(remaining, b.BucketOffset, skip)
		if !ok {
			break
		}

		if err := e.store.Reserve(entry.ID); err != nil {
			if errors.Is(err, alloc.ErrConflict) {
				// lost the race for this record; never fight for it again
				b.Exclude[entry.ID] = struct{}{}
				slog.Debug("reservation conflict", "record", entry.ID, "target", target)
				continue
			}
			e.release(picked)
			return Candidate{}, NewInternalError("reserve record", err)
		}

		rec, ok := e.records[entry.ID]
		if !ok {
			// index and catalog disagree; treat as corruption, skip the entry
			e.store.Rollback([]string{entry.ID})
			b.Exclude[entry.ID] = struct{}{}
			slog.Error("indexed record missing from catalog", "record", entry.ID)
			continue
		}

		e.index.Suspend(rec.Bucket, rec.ID)
		picked = append(picked, rec)
		remaining = remaining.Sub(rec.Value)

		smallest, any := e.index.SmallestAvailable(skip)
		if !any || remaining.LessThan(smallest) {
			break
		}
	}

	if len(picked) == 0 {
		return Candidate{}, NewNotFoundError(target, 0)
	}

	if remaining.GreaterThan(e.tolerance) {
		picked, remaining = e.compensate(ctx, picked, remaining, b.lookahead(), b.maxItems(), skip)
	}

	if remaining.GreaterThan(e.tolerance) {
		e.release(picked)
		return Candidate{}, NewNotFoundError(target, 0)
	}

	return e.candidate(target, picked), nil
}

// Probe runs the same greedy search without reserving anything. The result
// is an unconfirmed candidate suitable only for cache warming; it must be
// revalidated through the allocation store before use.
func (e *Engine) Probe(target decimal.Decimal, b Budget) (Candidate, bool) {
	local := make(map[string]struct{}, len(b.Exclude))
	for id := range b.Exclude {
		local[id] = struct{}{}
	}
	skip := func(id string) bool {
		_, ok := local[id]
		return ok
	}

	var picked []catalog.Record
	remaining := target

	for len(picked) < b.maxItems() {
		entry, ok := e.search(remaining, b.BucketOffset, skip)
		if !ok {
			break
		}
		rec, ok := e.records[entry.ID]
		if !ok {
			local[entry.ID] = struct{}{}
			continue
		}

		// no reservation: just keep the pick out of this probe's view
		local[rec.ID] = struct{}{}
		picked = append(picked, rec)
		remaining = remaining.Sub(rec.Value)

		smallest, any := e.index.SmallestAvailable(skip)
		if !any || remaining.LessThan(smallest) {
			break
		}
	}

	if len(picked) == 0 || remaining.GreaterThan(e.tolerance) {
		return Candidate{}, false
	}
	return e.candidate(target, picked), true
}

// Commit makes a candidate's allocation terminal: ledger append, state flip
// and index drop. On failure the candidate stays Reserved so the caller can
// Release it.
func (e *Engine) Commit(ctx context.Context, txnID string, target decimal.Decimal, c Candidate) error {
	if err := e.store.Commit(ctx, txnID, target, c.IDs); err != nil {
		if errors.Is(err, alloc.ErrConflict) {
			// An admin reset or replay flipped a record out from under
			// the held reservation. Name the record for the caller.
			for _, id := range c.IDs {
				if st, ok := e.store.StateOf(id); !ok || st != alloc.Reserved {
					return NewConflictError(id)
				}
			}
		}
		return err
	}
	for _, item := range c.Items {
		e.index.Drop(item.Bucket, item.ID)
	}
	return nil
}

// Release rolls a candidate's reservations back and makes its records
// visible to searches again.
func (e *Engine) Release(c Candidate) {
	e.release(c.Items)
}

// search finds the largest usable value not exceeding budget, trying the
// bucket bracketing the budget first and widening to smaller buckets.
func (e *Engine) search(budget decimal.Decimal, offset int, skip func(string) bool) (index.Entry, bool) {
	for _, bucket := range e.index.BucketOrder(budget, offset) {
		if entry, ok := e.index.Largest(bucket, budget, skip); ok {
			return entry, true
		}
	}
	return index.Entry{}, false
}

func (e *Engine) release(items []catalog.Record) {
	if len(items) == 0 {
		return
	}
	ids := make([]string, len(items))
	for i, r := range items {
		ids[i] = r.ID
	}
	e.store.Rollback(ids)
	for _, r := range items {
		e.index.Resume(r.Bucket, r.ID)
	}
}

func (e *Engine) candidate(target decimal.Decimal, picked []catalog.Record) Candidate {
	c := Candidate{
		IDs:   make([]string, len(picked)),
		Items: picked,
		Total: decimal.Zero,
	}
	for i, r := range picked {
		c.IDs[i] = r.ID
		c.Total = c.Total.Add(r.Value)
	}
	c.Shortfall = target.Sub(c.Total)
	return c
}
