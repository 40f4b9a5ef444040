package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewSignoutCommand creates the signout command. Signing out discards the
// user's queued entries so nothing replays under a stale identity.
func NewSignoutCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "signout",
		Short: "Discard the current user's queued log entries",
		Long: `Discard every queued and failed entry belonging to the current user.

Unsynced entries are lost. Run "setlog sync" first if you want to
deliver them, and pass --force to confirm the discard.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignout(rootOpts, force, cmd)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "confirm discarding unsynced entries")

	return cmd
}

func runSignout(opts *RootOptions, force bool, cmd *cobra.Command) error {
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
	if len(items) > 0 && !force {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("%d entr(ies) still queued; sync first or pass --force to discard them", len(items)))
	}

	if err := q.Clear(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to clear local store", err)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), Response{Status: "ok", Data: map[string]int{"discarded": len(items)}})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed out, discarded %d entr(ies).\n", len(items))
	return nil
}
