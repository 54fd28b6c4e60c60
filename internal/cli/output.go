package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/iiooiioo888/cs-pay/internal/controller"
	"github.com/iiooiioo888/cs-pay/internal/ledger"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Split failed (NotFound, out of range)
	ExitCommandError = 2 // Command error (bad config, unreadable catalog, database errors)
)

// ExitError carries a process exit code alongside the error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Returns ExitFailure for
// anything that is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Formatter renders command results as text or JSON.
type Formatter struct {
	Format string
	Writer io.Writer
}

type cliResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  *cliError   `json:"error,omitempty"`
}

type cliError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SplitResult renders a committed split.
func (f *Formatter) SplitResult(res controller.Result) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(cliResponse{Status: "ok", Data: splitData(res)})
	}

	fmt.Fprintf(f.Writer, "txn %s  target %s\n", res.TxnID, res.Target)
	for _, item := range res.Items {
		fmt.Fprintf(f.Writer, "  %-24s %10s  %s\n", item.Name, item.Value, item.URL)
	}
	fmt.Fprintf(f.Writer, "total %s  error %s", res.Total, res.Shortfall)
	if res.FromCache {
		fmt.Fprint(f.Writer, "  (cached)")
	}
	fmt.Fprintln(f.Writer)
	return nil
}

// Stats renders per-bucket pool usage.
func (f *Formatter) Stats(stats []ledger.BucketStats) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(cliResponse{Status: "ok", Data: stats})
	}

	fmt.Fprintf(f.Writer, "%-8s %8s %8s %10s\n", "BUCKET", "TOTAL", "USED", "REMAINING")
	for _, s := range stats {
		fmt.Fprintf(f.Writer, "%-8d %8d %8d %10d\n", s.Bucket, s.Total, s.Used, s.Remaining)
	}
	return nil
}

// Error renders a failed command.
func (f *Formatter) Error(code, message string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(cliResponse{
			Status: "error",
			Error:  &cliError{Code: code, Message: message},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	return nil
}

type splitItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	URL   string `json:"url"`
}

type splitPayload struct {
	TxnID     string      `json:"txn_id"`
	Target    string      `json:"target_value"`
	Results   []splitItem `json:"results"`
	Total     string      `json:"total_value"`
	Error     string      `json:"error"`
	FromCache bool        `json:"from_cache,omitempty"`
}

func splitData(res controller.Result) splitPayload {
	out := splitPayload{
		TxnID:     res.TxnID,
		Target:    res.Target.String(),
		Total:     res.Total.String(),
		Error:     res.Shortfall.String(),
		FromCache: res.FromCache,
	}
	for _, item := range res.Items {
		out.Results = append(out.Results, splitItem{
			Name:  item.Name,
			Value: item.Value.String(),
			URL:   item.URL,
		})
	}
	return out
}
