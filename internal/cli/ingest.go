package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iiooiioo888/cs-pay/internal/alloc"
	"github.com/iiooiioo888/cs-pay/internal/catalog"
	"github.com/iiooiioo888/cs-pay/internal/ledger"
)

// NewIngestCommand creates the ingest command: register the catalog CSVs
// into the ledger without starting the service.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Register catalog records into the ledger",
		Long: `Load the per-bucket CSV files and register every record in the
ledger. Registration is idempotent: records already known keep their state,
so re-running after adding rows only picks up the new ones.

Example:
  cspay ingest --config config.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(rootOpts, cmd)
		},
	}
	return cmd
}

func runIngest(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if cfg.LedgerPath == "" {
		return WrapExitError(ExitCommandError, "ingest requires ledger_path", nil)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	loader := catalog.NewLoader(cfg.CatalogDir, cfg.BucketGranularity, cfg.MaxBucket)
	batches, err := loader.LoadAll()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load catalog", err)
	}
	records := catalog.Flatten(batches)
	if len(records) == 0 {
		return WrapExitError(ExitCommandError, "catalog is empty", nil)
	}

	led, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer led.Close()

	before, err := led.Replay(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to replay ledger", err)
	}
	clock := alloc.NewClockAt(before.LastSeq)

	if err := led.RegisterRecords(ctx, records, clock.Next); err != nil {
		return WrapExitError(ExitCommandError, "failed to register records", err)
	}

	after, err := led.Replay(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to replay ledger", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "catalog: %d records, %d new, %d total registered\n",
		len(records), after.Registered-before.Registered, after.Registered)
	return nil
}
