package engine

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/iiooiioo888/cs-pay/internal/catalog"
)

// compensate tries to shrink the leftover error by trading the last-added
// item for one or two smaller records that fill the freed budget better.
//
// The victim stays Reserved throughout the probes: releasing it first would
// let a concurrent request snatch it, turning a failed compensation into a
// worse candidate than we started with. It is rolled back only after a
// strictly better replacement is already Reserved.
//
// At most k replacement probes run; the first strict improvement wins.
// Returns the (possibly updated) picks and remaining error.
func (e *Engine) compensate(
	ctx context.Context,
	picked []catalog.Record,
	remaining decimal.Decimal,
	k, maxItems int,
	skip func(string) bool,
) ([]catalog.Record, decimal.Decimal) {
	if len(picked) == 0 {
		return picked, remaining
	}

	// a pair swap grows the candidate by one; forbid it at the cap
	pairAllowed := len(picked) < maxItems

	victim := picked[len(picked)-1]
	freed := victim.Value.Add(remaining)

	tried := make(map[string]struct{})
	probeSkip := func(id string) bool {
		if _, ok := tried[id]; ok {
			return true
		}
		return skip(id)
	}

	for probe := 0; probe < k; probe++ {
		if ctx.Err() != nil {
			return picked, remaining
		}

		first, ok := e.search(freed, 0, probeSkip)
		if !ok {
			return picked, remaining
		}
		if err := e.store.Reserve(first.ID); err != nil {
			tried[first.ID] = struct{}{}
			continue
		}
		firstRec := e.records[first.ID]
		e.index.Suspend(firstRec.Bucket, firstRec.ID)

		replacement := []catalog.Record{firstRec}
		gain := firstRec.Value
		if pairAllowed {
			replacement, gain = e.probeSecond(firstRec, freed, probeSkip)
		}
		// accept only strict error reduction
		if gain.GreaterThan(victim.Value) {
			e.release([]catalog.Record{victim})

			picked = picked[:len(picked)-1]
			picked = append(picked, replacement...)
			newRemaining := freed.Sub(gain)

			slog.Debug("compensation accepted",
				"victim", victim.ID,
				"replacements", len(replacement),
				"error_before", remaining,
				"error_after", newRemaining,
			)
			return picked, newRemaining
		}

		// no improvement through this record; release and try the next
		e.release(replacement)
		tried[first.ID] = struct{}{}
	}

	return picked, remaining
}

// probeSecond completes a compensation probe started with first: it tries
// to reserve a second record filling the rest of the freed budget. Returns
// the reserved replacement set (first alone, or first plus second) and its
// combined value. The caller decides acceptance; everything returned is
// Reserved.
func (e *Engine) probeSecond(
	first catalog.Record,
	freed decimal.Decimal,
	skip func(string) bool,
) ([]catalog.Record, decimal.Decimal) {
	rest := freed.Sub(first.Value)

	second, ok := e.search(rest, 0, skip)
	if ok && second.ID != first.ID {
		if err := e.store.Reserve(second.ID); err == nil {
			secondRec := e.records[second.ID]
			e.index.Suspend(secondRec.Bucket, secondRec.ID)
			return []catalog.Record{first, secondRec}, first.Value.Add(secondRec.Value)
		}
	}

	return []catalog.Record{first}, first.Value
}
