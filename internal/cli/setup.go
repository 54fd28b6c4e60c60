package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/iiooiioo888/cs-pay/internal/alloc"
	"github.com/iiooiioo888/cs-pay/internal/cache"
	"github.com/iiooiioo888/cs-pay/internal/catalog"
	"github.com/iiooiioo888/cs-pay/internal/config"
	"github.com/iiooiioo888/cs-pay/internal/controller"
	"github.com/iiooiioo888/cs-pay/internal/engine"
	"github.com/iiooiioo888/cs-pay/internal/index"
	"github.com/iiooiioo888/cs-pay/internal/ledger"
)

// app is the assembled service: catalog through controller. Close releases
// the ledger handle.
type app struct {
	cfg     config.Config
	records []catalog.Record
	ledger  *ledger.Store
	store   *alloc.Store
	index   *index.Index
	mem     *cache.Memory
	engine  *engine.Engine
	ctrl    *controller.Controller
}

func (a *app) Close() {
	if a.ledger == nil {
		return
	}
	if err := a.ledger.Close(); err != nil {
		slog.Error("error closing ledger", "error", err)
	}
}

func loadConfig(opts *RootOptions) (config.Config, error) {
	if opts.Config == "" {
		return config.Default(), nil
	}
	return config.Load(opts.Config)
}

// setup boots the whole stack: load the catalog, open and replay the
// ledger, rebuild the presorted index (from snapshots when they match the
// catalog fingerprint), and wire the engine and controller.
func setup(ctx context.Context, cfg config.Config) (*app, error) {
	loader := catalog.NewLoader(cfg.CatalogDir, cfg.BucketGranularity, cfg.MaxBucket)
	batches, err := loader.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	records := catalog.Flatten(batches)
	slog.Info("catalog loaded", "dir", cfg.CatalogDir, "records", len(records))

	var (
		led   *ledger.Store
		clock *alloc.Clock
		state ledger.PoolState
	)
	if cfg.LedgerPath != "" {
		led, err = ledger.Open(cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		state, err = led.Replay(ctx)
		if err != nil {
			led.Close()
			return nil, fmt.Errorf("replay ledger: %w", err)
		}
		clock = alloc.NewClockAt(state.LastSeq)

		if len(records) == 0 && state.Registered > 0 {
			// No CSVs on disk but the ledger knows the catalog; run from
			// the persisted copy.
			records, err = led.Records(ctx)
			if err != nil {
				led.Close()
				return nil, fmt.Errorf("read persisted catalog: %w", err)
			}
			slog.Info("catalog restored from ledger", "records", len(records))
		} else if err := led.RegisterRecords(ctx, records, clock.Next); err != nil {
			led.Close()
			return nil, fmt.Errorf("register catalog: %w", err)
		}
		slog.Info("ledger ready", "path", cfg.LedgerPath,
			"used", len(state.UsedIDs), "last_seq", state.LastSeq)
	} else {
		clock = alloc.NewClock()
		slog.Warn("running without a ledger; allocations are not durable")
	}

	if len(records) == 0 {
		if led != nil {
			led.Close()
		}
		return nil, fmt.Errorf("catalog is empty")
	}

	store := alloc.NewStore(led, clock)
	ids := make([]string, len(records))
	byID := make(map[string]catalog.Record, len(records))
	for i, r := range records {
		ids[i] = r.ID
		byID[r.ID] = r
	}
	store.Register(ids)
	store.RestoreUsed(state.UsedIDs)

	ix := buildIndex(cfg, records)
	for _, id := range state.UsedIDs {
		if rec, ok := byID[id]; ok {
			ix.Drop(rec.Bucket, rec.ID)
		}
	}

	mem := cache.NewMemory(cfg.CacheCapacity, cfg.CacheCombosPerKey)
	eng := engine.New(ix, store, records, cfg.Tolerance.Decimal)
	ctrl := controller.New(eng, store, mem, controller.Options{
		MinValue:  cfg.MinValue.Decimal,
		MaxValue:  cfg.MaxValue.Decimal,
		Attempts:  cfg.Attempts,
		MaxItems:  cfg.MaxItems,
		Lookahead: cfg.Lookahead,
	})

	return &app{
		cfg:     cfg,
		records: records,
		ledger:  led,
		store:   store,
		index:   ix,
		mem:     mem,
		engine:  eng,
		ctrl:    ctrl,
	}, nil
}

// buildIndex restores the presorted index from per-bucket snapshots when
// every bucket matches the current catalog fingerprint, otherwise sorts
// from scratch and rewrites the snapshots. Snapshots are an optimization
// only; any failure falls back to a fresh build.
func buildIndex(cfg config.Config, records []catalog.Record) *index.Index {
	ix := index.New(cfg.BucketGranularity, cfg.MaxBucket)
	if cfg.SnapshotDir == "" {
		ix.Build(records)
		return ix
	}

	fc, err := cache.NewFileCache(cfg.SnapshotDir)
	if err != nil {
		slog.Warn("snapshot dir unavailable", "dir", cfg.SnapshotDir, "error", err)
		ix.Build(records)
		return ix
	}

	buckets := make(map[int]bool)
	for _, r := range records {
		buckets[r.Bucket] = true
	}
	fp := catalog.Fingerprint(records)

	restored := true
	for bucket := range buckets {
		entries, err := fc.Load(bucket, fp)
		if err != nil {
			restored = false
			break
		}
		ix.InstallSorted(bucket, entries)
	}
	if restored {
		slog.Info("index restored from snapshots", "buckets", len(buckets))
		return ix
	}

	ix = index.New(cfg.BucketGranularity, cfg.MaxBucket)
	ix.Build(records)
	for _, bucket := range ix.Buckets() {
		snap := cache.Snapshot{Fingerprint: fp, Bucket: bucket, Entries: ix.Snapshot(bucket)}
		if err := fc.Write(snap); err != nil {
			slog.Warn("snapshot write failed", "bucket", bucket, "error", err)
		}
	}
	slog.Info("index built and snapshotted", "buckets", len(buckets))
	return ix
}
