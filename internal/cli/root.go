package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Store   string // "sqlite" | "file"
	DBPath  string
	Server  string
	Token   string
	User    string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the setlog CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "setlog",
		Short: "setlog - offline-first exercise log client",
		Long:  "Records exercise logs locally and replays them to the server when connectivity returns.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Store != "sqlite" && opts.Store != "file" {
				return fmt.Errorf("invalid store %q: must be sqlite or file", opts.Store)
			}
			if opts.Token == "" {
				opts.Token = os.Getenv("SETLOG_TOKEN")
			}
			if opts.User == "" {
				opts.User = os.Getenv("SETLOG_USER")
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "setlog.db", "path to the local mutation store")
	cmd.PersistentFlags().StringVar(&opts.Store, "store", "sqlite", "local store backend (sqlite|file)")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", "http://localhost:8080", "base URL of the log service")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "bearer token (defaults to SETLOG_TOKEN)")
	cmd.PersistentFlags().StringVar(&opts.User, "user", "", "user identifier (defaults to SETLOG_USER)")

	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewSignoutCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
