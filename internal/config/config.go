// Package config holds the single configuration structure for the service.
// Every tunable lives here; nothing else reads environment or files.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Decimal is a decimal.Decimal that reads from a plain YAML scalar, so
// config files can say `tolerance: 0.5` without quoting.
type Decimal struct {
	decimal.Decimal
}

func dec(v decimal.Decimal) Decimal { return Decimal{v} }

func (d *Decimal) UnmarshalYAML(node *yaml.Node) error {
	v, err := decimal.NewFromString(node.Value)
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", node.Value, err)
	}
	d.Decimal = v
	return nil
}

func (d Decimal) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Duration reads time.Duration from scalars like `10s` or `500ms`.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config enumerates every tunable of the splitting service.
type Config struct {
	// MinValue and MaxValue bound acceptable split targets, inclusive.
	MinValue Decimal `yaml:"min_value"`
	MaxValue Decimal `yaml:"max_value"`

	// Tolerance is the largest acceptable shortfall between an accepted
	// combination's sum and the target.
	Tolerance Decimal `yaml:"tolerance"`

	// BucketGranularity is the width of one catalog bucket; MaxBucket is
	// the highest bucket label the catalog uses.
	BucketGranularity int `yaml:"bucket_granularity"`
	MaxBucket         int `yaml:"max_bucket"`

	// CatalogDir holds the per-bucket CSV files (less_than_N.csv).
	CatalogDir string `yaml:"catalog_dir"`

	// LedgerPath is the SQLite database backing the used/unused ledgers.
	// Empty runs memory-only, losing durability.
	LedgerPath string `yaml:"ledger_path"`

	// SnapshotDir stores the per-bucket sorted-index snapshots that skip
	// re-sorting on restart. Empty disables the file cache.
	SnapshotDir string `yaml:"snapshot_dir"`

	// CacheCapacity is the number of target keys the memory cache holds;
	// CacheCombosPerKey caps the combinations kept per key.
	CacheCapacity     int `yaml:"cache_capacity"`
	CacheCombosPerKey int `yaml:"cache_combos_per_key"`

	// Attempts bounds the retry loop per request. MaxItems caps the
	// records in one split on the first attempt; later attempts relax it.
	// Lookahead is the compensation swap budget k.
	Attempts  int `yaml:"attempts"`
	MaxItems  int `yaml:"max_items"`
	Lookahead int `yaml:"lookahead"`

	// RequestTimeout is the per-request deadline enforced by the server.
	RequestTimeout Duration `yaml:"request_timeout"`

	// WarmInterval is the pause between background pre-split passes.
	// Zero disables the warmer.
	WarmInterval Duration `yaml:"warm_interval"`

	// ListenAddr is the HTTP bind address of the serve command.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		MinValue:          dec(decimal.NewFromInt(300)),
		MaxValue:          dec(decimal.NewFromInt(5000)),
		Tolerance:         dec(decimal.NewFromFloat(0.5)),
		BucketGranularity: 10,
		MaxBucket:         490,
		CatalogDir:        "catalog",
		LedgerPath:        "cspay.db",
		SnapshotDir:       "snapshots",
		CacheCapacity:     64,
		CacheCombosPerKey: 5,
		Attempts:          3,
		MaxItems:          8,
		Lookahead:         3,
		RequestTimeout:    Duration(10 * time.Second),
		WarmInterval:      Duration(5 * time.Second),
		ListenAddr:        ":8080",
	}
}

// Load reads a YAML file over the defaults. Unknown fields are rejected so
// a typo never silently falls back to a default.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c Config) Validate() error {
	if c.MinValue.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("min_value must be positive")
	}
	if c.MaxValue.LessThan(c.MinValue.Decimal) {
		return fmt.Errorf("max_value %s is below min_value %s", c.MaxValue, c.MinValue)
	}
	if c.Tolerance.IsNegative() {
		return fmt.Errorf("tolerance must not be negative")
	}
	if c.BucketGranularity <= 0 {
		return fmt.Errorf("bucket_granularity must be positive")
	}
	if c.MaxBucket < c.BucketGranularity {
		return fmt.Errorf("max_bucket %d is below bucket_granularity %d", c.MaxBucket, c.BucketGranularity)
	}
	if c.MaxBucket%c.BucketGranularity != 0 {
		return fmt.Errorf("max_bucket %d is not a multiple of bucket_granularity %d", c.MaxBucket, c.BucketGranularity)
	}
	if c.CatalogDir == "" {
		return fmt.Errorf("catalog_dir is required")
	}
	if c.CacheCapacity < 1 || c.CacheCombosPerKey < 1 {
		return fmt.Errorf("cache sizes must be at least 1")
	}
	if c.Attempts <= 0 {
		return fmt.Errorf("attempts must be positive")
	}
	if c.MaxItems <= 0 {
		return fmt.Errorf("max_items must be positive")
	}
	if c.Lookahead < 0 {
		return fmt.Errorf("lookahead must not be negative")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	return nil
}
