package controller

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iiooiioo888/cs-pay/internal/cache"
	"github.com/iiooiioo888/cs-pay/internal/engine"
)

const (
	// DefaultWarmInterval is the pause between background fill passes.
	DefaultWarmInterval = 5 * time.Second

	// DefaultCombosPerTarget caps how many distinct combinations the
	// warmer keeps ready per cache key.
	DefaultCombosPerTarget = 5

	// maxTracked bounds the set of keys the warmer follows.
	maxTracked = 64
)

// WarmerOptions tunes the background pre-split loop. Zero Interval and
// Combos select the package defaults.
type WarmerOptions struct {
	Interval time.Duration
	Combos   int

	// MinValue and MaxValue let the warmer pick a target on its own when
	// no request has been noted yet. Both zero disables seeding.
	MinValue decimal.Decimal
	MaxValue decimal.Decimal

	Logger *slog.Logger
}

// Warmer pre-computes split candidates for recently seen targets so a
// follow-up request for a near-duplicate value can skip the search. It only
// probes: nothing is ever reserved, and every cached combination is
// re-validated by the controller before use.
type Warmer struct {
	engine *engine.Engine
	cache  *cache.Memory
	opts   WarmerOptions
	log    *slog.Logger

	mu      sync.Mutex
	targets map[string]decimal.Decimal

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWarmer builds a warmer over the same engine and cache the controller
// uses.
func NewWarmer(e *engine.Engine, mem *cache.Memory, opts WarmerOptions) *Warmer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultWarmInterval
	}
	if opts.Combos <= 0 {
		opts.Combos = DefaultCombosPerTarget
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Warmer{
		engine:  e,
		cache:   mem,
		opts:    opts,
		log:     log,
		targets: make(map[string]decimal.Decimal),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Note records interest in a target. The warmer probes for its key on the
// next pass. Safe to call from request handlers.
func (w *Warmer) Note(target decimal.Decimal) {
	key := cache.Key(target)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.targets[key]; !ok && len(w.targets) >= maxTracked {
		for k := range w.targets {
			delete(w.targets, k)
			break
		}
	}
	// The floored value stands in for every target sharing the key, so a
	// probed sum fits any of them.
	w.targets[key] = target.Floor()
}

// Start launches the background fill loop.
func (w *Warmer) Start() {
	go w.run()
}

// Stop halts the loop and waits for the in-flight pass to finish.
func (w *Warmer) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

func (w *Warmer) run() {
	defer close(w.done)
	t := time.NewTicker(w.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			w.fill()
		}
	}
}

// fill tops up every tracked key to the combo cap. With nothing tracked yet
// it seeds one random in-range target so the cache is never cold.
func (w *Warmer) fill() {
	w.mu.Lock()
	if len(w.targets) == 0 {
		if t, ok := w.randomTarget(); ok {
			w.targets[cache.Key(t)] = t
		}
	}
	pending := make(map[string]decimal.Decimal, len(w.targets))
	for k, v := range w.targets {
		pending[k] = v
	}
	w.mu.Unlock()

	for key, target := range pending {
		w.fillKey(key, target)
	}
}

func (w *Warmer) randomTarget() (decimal.Decimal, bool) {
	span := w.opts.MaxValue.Sub(w.opts.MinValue)
	if w.opts.MinValue.Sign() <= 0 || span.Sign() < 0 {
		return decimal.Decimal{}, false
	}
	offset := decimal.NewFromInt(rand.Int64N(span.IntPart() + 1))
	return w.opts.MinValue.Add(offset).Floor(), true
}

// fillKey probes for fresh combinations until the key is full or the pool
// has nothing more to offer. Records already cached under the key are
// excluded so each probe yields a distinct combination.
func (w *Warmer) fillKey(key string, target decimal.Decimal) {
	for {
		have := w.cache.Combos(key)
		if have >= w.opts.Combos {
			return
		}
		exclude := make(map[string]struct{})
		for _, c := range w.cache.Get(key) {
			for _, id := range c.IDs {
				exclude[id] = struct{}{}
			}
		}
		cand, ok := w.engine.Probe(target, engine.Budget{Exclude: exclude})
		if !ok {
			return
		}
		w.cache.Put(key, cache.Candidate{IDs: cand.IDs, Total: cand.Total})
		// The cache enforces its own per-key cap; a Put it refuses means
		// the key is as full as it gets and probing again would spin.
		if w.cache.Combos(key) <= have {
			return
		}
		w.log.Debug("warmed candidate",
			"key", key,
			"items", len(cand.IDs),
			"total", cand.Total.String())
	}
}
