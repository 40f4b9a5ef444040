package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"example.com/setlog/internal/replay"
)

// SyncResult is the output of a single replay pass.
type SyncResult struct {
	Attempted  int `json:"attempted"`
	Succeeded  int `json:"succeeded"`
	Duplicates int `json:"duplicates"`
	Transient  int `json:"transient"`
	Permanent  int `json:"permanent"`
	Skipped    int `json:"skipped"`
}

// NewSyncCommand creates the sync command. It runs one replay pass over the
// pending queue and reports per-item outcomes.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued logs to the server once",
		Long: `Replay queued logs to the server once, in enqueue order.

Entries that succeed (or that the server recognises as already applied)
leave the queue. Transient failures stay queued for the next pass.
Permanently rejected entries are parked as failed; inspect them with
"setlog status".

Exit codes:
  0 - Pass completed, nothing permanently rejected
  1 - Pass completed with permanent rejections
  2 - Command error (store not found, pass aborted, etc.)

Examples:
  setlog sync --user alice --server https://logs.example.com
  setlog sync --user alice --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
	return cmd
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	q, closer, err := openQueue(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer()

	logger := log.New(cmd.ErrOrStderr(), "[replay] ", log.LstdFlags)
	engine := replay.NewEngine(q, newClient(opts), replay.WithLogger(logger))

	report, err := engine.RunPass(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay pass aborted", err)
	}

	result := SyncResult{
		Attempted:  report.Attempted,
		Succeeded:  report.Succeeded,
		Duplicates: report.Duplicates,
		Transient:  report.Transient,
		Permanent:  report.Permanent,
		Skipped:    report.Skipped,
	}

	if opts.Format == "json" {
		resp := Response{Status: "ok", Data: result}
		if result.Permanent > 0 {
			resp.Status = "error"
			resp.Error = &Detail{Code: "E_REJECTED", Message: "some entries were permanently rejected"}
		}
		if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
		if result.Permanent > 0 {
			return NewExitError(ExitFailure, "some entries were permanently rejected")
		}
		return nil
	}

	w := cmd.OutOrStdout()
	if result.Attempted == 0 && result.Skipped == 0 {
		fmt.Fprintln(w, "Queue is empty, nothing to sync.")
		return nil
	}
	fmt.Fprintf(w, "Synced %d of %d entr(ies)", result.Succeeded, result.Attempted)
	if result.Duplicates > 0 {
		fmt.Fprintf(w, " (%d already applied)", result.Duplicates)
	}
	fmt.Fprintln(w)
	if result.Transient > 0 {
		fmt.Fprintf(w, "  %d left queued after transient failures\n", result.Transient)
	}
	if result.Skipped > 0 {
		fmt.Fprintf(w, "  %d skipped (unknown operation)\n", result.Skipped)
	}
	if result.Permanent > 0 {
		fmt.Fprintf(w, "  %d permanently rejected, see \"setlog status\"\n", result.Permanent)
		return NewExitError(ExitFailure, "some entries were permanently rejected")
	}
	return nil
}
