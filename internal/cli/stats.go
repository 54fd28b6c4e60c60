package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/iiooiioo888/cs-pay/internal/ledger"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-bucket pool usage",
		Long: `Report how many records each bucket holds and how many have been
consumed, straight from the ledger.

Example:
  cspay stats --config config.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, cmd)
		},
	}
	return cmd
}

func runStats(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if cfg.LedgerPath == "" {
		return WrapExitError(ExitCommandError, "stats requires ledger_path", nil)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	led, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer led.Close()

	stats, err := led.Stats(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read stats", err)
	}

	out := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Stats(stats)
}
