package cli

import (
	"context"
	"io"
	"log"

	"example.com/setlog/internal/queue"
	"example.com/setlog/internal/remote"
)

// openStore opens the local mutation store selected by the global flags.
// The returned closer is a no-op for file-backed stores.
func openStore(opts *RootOptions, errWriter io.Writer) (queue.Store, func() error, error) {
	switch opts.Store {
	case "file":
		logger := log.New(errWriter, "setlog: ", log.LstdFlags)
		store, err := queue.OpenFileStore(opts.DBPath, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { return nil }, nil
	default:
		store, err := queue.OpenSQLiteStore(opts.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
}

// openQueue opens the store and binds a queue to the current user.
func openQueue(opts *RootOptions, errWriter io.Writer) (*queue.Queue, func() error, error) {
	if opts.User == "" {
		return nil, nil, NewExitError(ExitCommandError, "user is required (set --user or SETLOG_USER)")
	}
	store, closer, err := openStore(opts, errWriter)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open local store", err)
	}
	return queue.New(store, opts.User), closer, nil
}

// newClient builds the remote client from the global flags.
func newClient(opts *RootOptions) *remote.Client {
	token := opts.Token
	return remote.NewClient(opts.Server, func(ctx context.Context) (string, error) {
		return token, nil
	})
}
