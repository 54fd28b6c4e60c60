package cli

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/iiooiioo888/cs-pay/internal/engine"
)

// NewSplitCommand creates the split command: one split request from the
// shell, against the same ledger the server uses.
func NewSplitCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "split <target>",
		Short: "Split a target value into catalog records",
		Long: `Split one target value and commit the result.

The committed records are permanently consumed, exactly as if the request
had arrived over HTTP.

Example:
  cspay split 388.40
  cspay split 1500 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSplit(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runSplit(opts *RootOptions, arg string, cmd *cobra.Command) error {
	out := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	target, err := decimal.NewFromString(arg)
	if err != nil {
		out.Error("INVALID_TARGET", "target is not a decimal value: "+arg)
		return WrapExitError(ExitCommandError, "invalid target", err)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithTimeout(parentCtx, cfg.RequestTimeout.Std())
	defer cancel()

	a, err := setup(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer a.Close()

	res, err := a.ctrl.Split(ctx, target)
	if err != nil {
		code := string(engine.CodeInternal)
		switch {
		case engine.IsOutOfRange(err):
			code = string(engine.CodeOutOfRange)
		case engine.IsNotFound(err):
			code = string(engine.CodeNotFound)
		case engine.IsConflict(err):
			code = string(engine.CodeConflict)
		}
		out.Error(code, err.Error())
		return WrapExitError(ExitFailure, "split failed", err)
	}

	return out.SplitResult(res)
}
