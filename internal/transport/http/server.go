// Package httptransport builds the HTTP server the API binary listens on.
package httptransport

import (
	"net/http"
	"time"
)

// ServerConfig holds listener tunables. Zero-valued timeouts fall back to
// defaults suited to the short-lived JSON requests this service handles.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer returns an *http.Server wired with the given handler and the
// config's timeouts applied.
func NewServer(cfg ServerConfig, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
	}
	if srv.ReadTimeout == 0 {
		srv.ReadTimeout = 5 * time.Second
	}
	if srv.WriteTimeout == 0 {
		srv.WriteTimeout = 10 * time.Second
	}
	if srv.IdleTimeout == 0 {
		srv.IdleTimeout = 60 * time.Second
	}
	return srv
}
