package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"example.com/setlog/internal/replay"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Interval time.Duration
}

// NewWatchCommand creates the watch command. It probes the server on an
// interval and replays the queue whenever connectivity comes back.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Replay queued logs whenever connectivity returns",
		Long: `Probe the server on an interval and run a replay pass every time the
connection transitions from offline to online. Runs until interrupted.

Examples:
  setlog watch --user alice --server https://logs.example.com
  setlog watch --user alice --interval 10s`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", 30*time.Second, "connectivity probe interval")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	q, closer, err := openQueue(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer()

	client := newClient(opts.RootOptions)
	logger := log.New(cmd.ErrOrStderr(), "[replay] ", log.LstdFlags)
	engine := replay.NewEngine(q, client, replay.WithLogger(logger))

	prober := replay.NewProber(client.Ping, opts.Interval)
	go prober.Run(ctx)

	fmt.Fprintf(cmd.OutOrStdout(), "Watching for connectivity to %s (probe every %s)\n", opts.Server, opts.Interval)

	err = engine.Watch(ctx, prober.Transitions())
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitCommandError, "watch aborted", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Stopped.")
	return nil
}
