package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"example.com/setlog/internal/queue"
)

// StatusItem is one queue entry in the status output.
type StatusItem struct {
	ID            string `json:"id"`
	Operation     string `json:"operation"`
	State         string `json:"state"`
	EnqueuedAt    string `json:"enqueued_at"`
	AttemptCount  int    `json:"attempt_count"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// StatusResult is the output of the status command.
type StatusResult struct {
	Pending int          `json:"pending"`
	Failed  int          `json:"failed"`
	Items   []StatusItem `json:"items"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queued and failed log entries",
		Long: `Show the local queue: entries awaiting replay and entries parked as
failed after a permanent rejection or an exhausted retry budget.

Examples:
  setlog status --user alice
  setlog status --user alice --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	q, closer, err := openQueue(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer()

	items, err := q.All(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read local store", err)
	}

	result := StatusResult{Items: make([]StatusItem, 0, len(items))}
	for _, item := range items {
		switch item.State {
		case queue.StateFailed:
			result.Failed++
		default:
			result.Pending++
		}
		result.Items = append(result.Items, StatusItem{
			ID:            item.ID,
			Operation:     item.OperationName,
			State:         string(item.State),
			EnqueuedAt:    item.EnqueuedAt.Format(time.RFC3339),
			AttemptCount:  item.AttemptCount,
			FailureReason: item.FailureReason,
		})
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), Response{Status: "ok", Data: result})
	}

	w := cmd.OutOrStdout()
	if len(result.Items) == 0 {
		fmt.Fprintln(w, "Queue is empty.")
		return nil
	}
	fmt.Fprintf(w, "Queue: %d pending, %d failed\n\n", result.Pending, result.Failed)
	for _, item := range result.Items {
		fmt.Fprintf(w, "%s  %-12s %-8s enqueued %s", item.ID, item.Operation, item.State, item.EnqueuedAt)
		if item.AttemptCount > 0 {
			fmt.Fprintf(w, "  attempts=%d", item.AttemptCount)
		}
		fmt.Fprintln(w)
		if item.FailureReason != "" {
			fmt.Fprintf(w, "  reason: %s\n", item.FailureReason)
		}
	}
	return nil
}
