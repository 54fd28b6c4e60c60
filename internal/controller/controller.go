package controller

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iiooiioo888/cs-pay/internal/alloc"
	"github.com/iiooiioo888/cs-pay/internal/cache"
	"github.com/iiooiioo888/cs-pay/internal/catalog"
	"github.com/iiooiioo888/cs-pay/internal/engine"
)

// DefaultAttempts bounds the outer retry loop when Options.Attempts is zero.
const DefaultAttempts = 3

// Options carries the request-level tunables. Zero values fall back to the
// package defaults, so an empty Options is usable in tests.
type Options struct {
	// MinValue and MaxValue bound acceptable targets; anything outside is
	// rejected before any allocation work happens.
	MinValue decimal.Decimal
	MaxValue decimal.Decimal

	// Attempts is the number of engine invocations per request. Later
	// attempts shift the bucket ordering down and relax the item cap by
	// one per attempt.
	Attempts int

	// MaxItems is the base item cap handed to the engine on the first
	// attempt. Zero means the engine default.
	MaxItems int

	// Lookahead is the compensation swap budget k.
	Lookahead int

	Logger *slog.Logger
}

// Result is a committed split. Items are in pick order; Total never exceeds
// Target.
type Result struct {
	TxnID     string
	Target    decimal.Decimal
	Items     []catalog.Record
	Total     decimal.Decimal
	Shortfall decimal.Decimal

	// Attempts is how many engine searches ran; zero for a cache hit.
	Attempts  int
	FromCache bool
}

// Controller arbitrates one split request end to end. Safe for concurrent
// use; per-request state never escapes Split.
type Controller struct {
	engine *engine.Engine
	store  *alloc.Store
	cache  *cache.Memory
	opts   Options
	log    *slog.Logger
}

// New wires a controller over an engine, the allocation store backing it,
// and a warm-candidate cache. The cache may be nil for cacheless operation.
func New(e *engine.Engine, store *alloc.Store, mem *cache.Memory, opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{engine: e, store: store, cache: mem, opts: opts, log: log}
}

func (c *Controller) attempts() int {
	if c.opts.Attempts > 0 {
		return c.opts.Attempts
	}
	return DefaultAttempts
}

func (c *Controller) maxItems() int {
	if c.opts.MaxItems > 0 {
		return c.opts.MaxItems
	}
	return engine.DefaultMaxItems
}

// Split resolves one request: validate the target, try the cache, then run
// up to Attempts engine searches. On success the candidate is committed and
// its records leave the pool for good; every failure path rolls back any
// reservation this request took.
func (c *Controller) Split(ctx context.Context, target decimal.Decimal) (Result, error) {
	if target.LessThan(c.opts.MinValue) || target.GreaterThan(c.opts.MaxValue) {
		return Result{}, engine.NewOutOfRangeError(target, c.opts.MinValue, c.opts.MaxValue)
	}

	txnID := uuid.NewString()
	log := c.log.With("txn", txnID, "target", target.String())

	if r, ok := c.fromCache(ctx, txnID, target, log); ok {
		return r, nil
	}

	// Contended IDs accumulate here across attempts so a lost reservation
	// is never re-fought within the same request.
	exclude := make(map[string]struct{})

	for attempt := 1; attempt <= c.attempts(); attempt++ {
		if ctx.Err() != nil {
			log.Warn("deadline exceeded between attempts", "attempt", attempt)
			return Result{}, engine.NewNotFoundError(target, attempt-1)
		}

		b := engine.Budget{
			MaxItems:     c.maxItems() + attempt - 1,
			BucketOffset: attempt - 1,
			Lookahead:    c.opts.Lookahead,
			Exclude:      exclude,
		}
		cand, err := c.engine.Split(ctx, target, b)
		if err != nil {
			if engine.IsNotFound(err) {
				log.Debug("attempt found nothing within tolerance", "attempt", attempt)
				continue
			}
			if ctx.Err() != nil {
				// Mid-attempt cancellation; the engine already rolled
				// back its reservations.
				return Result{}, engine.NewNotFoundError(target, attempt)
			}
			return Result{}, err
		}

		if err := c.engine.Commit(ctx, txnID, target, cand); err != nil {
			c.engine.Release(cand)
			if engine.IsConflict(err) {
				return Result{}, err
			}
			return Result{}, engine.NewInternalError("commit split", err)
		}
		log.Info("split committed",
			"items", len(cand.Items),
			"total", cand.Total.String(),
			"attempt", attempt)
		return Result{
			TxnID:     txnID,
			Target:    target,
			Items:     cand.Items,
			Total:     cand.Total,
			Shortfall: cand.Shortfall,
			Attempts:  attempt,
		}, nil
	}

	return Result{}, engine.NewNotFoundError(target, c.attempts())
}

// fromCache tries each cached combination for the target's key. A hit must
// fit this exact target within tolerance and survive re-validation (every
// record re-reserved); anything stale falls through to the fresh search.
func (c *Controller) fromCache(ctx context.Context, txnID string, target decimal.Decimal, log *slog.Logger) (Result, bool) {
	if c.cache == nil {
		return Result{}, false
	}
	key := cache.Key(target)
	for _, cached := range c.cache.Get(key) {
		if cached.Total.GreaterThan(target) {
			continue
		}
		if target.Sub(cached.Total).GreaterThan(c.engine.Tolerance()) {
			continue
		}

		cand, ok := c.revalidate(target, cached)
		if !ok {
			if c.anyUsed(cached.IDs) {
				// Consumed records never come back; the combination is
				// dead for every future reader.
				c.cache.Drop(key, cached.IDs)
			}
			continue
		}

		if err := c.engine.Commit(ctx, txnID, target, cand); err != nil {
			c.engine.Release(cand)
			log.Warn("cached candidate failed to commit", "error", err)
			return Result{}, false
		}
		// Drop by the stored ID order; cand.IDs was re-sorted for the
		// reservation sweep and would not match the cached entry.
		c.cache.Drop(key, cached.IDs)
		log.Info("split served from cache", "items", len(cand.Items), "total", cand.Total.String())
		return Result{
			TxnID:     txnID,
			Target:    target,
			Items:     cand.Items,
			Total:     cand.Total,
			Shortfall: target.Sub(cand.Total),
			FromCache: true,
		}, true
	}
	return Result{}, false
}

// revalidate re-reserves a cached combination in ascending ID order, the
// same lock order every other path uses. Any conflict rolls back what was
// taken and reports a miss.
func (c *Controller) revalidate(target decimal.Decimal, cached cache.Candidate) (engine.Candidate, bool) {
	ids := append([]string(nil), cached.IDs...)
	sort.Strings(ids)

	reserved := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := c.store.Reserve(id); err != nil {
			c.store.Rollback(reserved)
			return engine.Candidate{}, false
		}
		reserved = append(reserved, id)
	}

	items := make([]catalog.Record, 0, len(ids))
	total := decimal.Zero
	for _, id := range ids {
		rec, ok := c.engine.Record(id)
		if !ok {
			c.store.Rollback(reserved)
			return engine.Candidate{}, false
		}
		items = append(items, rec)
		total = total.Add(rec.Value)
	}
	return engine.Candidate{
		IDs:       ids,
		Items:     items,
		Total:     total,
		Shortfall: target.Sub(total),
	}, true
}

func (c *Controller) anyUsed(ids []string) bool {
	for _, id := range ids {
		if st, ok := c.store.StateOf(id); ok && st == alloc.Used {
			return true
		}
	}
	return false
}
