// Package server runs the HTTP listener until it fails or its context ends,
// then drains in-flight requests.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Serve listens on srv.Addr until ctx is done. See Run.
func Serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	return Run(ctx, srv, ln, shutdownTimeout, logger)
}

// Run serves on ln. When ctx is done the server stops accepting connections and
// waits up to shutdownTimeout for active requests; after that they are cut.
func Run(ctx context.Context, srv *http.Server, ln net.Listener, shutdownTimeout time.Duration, logger *zap.Logger) error {
	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(ln)
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.NamedError("cause", context.Cause(ctx)), zap.Duration("timeout", shutdownTimeout))
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := srv.Shutdown(drainCtx)
	if errors.Is(shutdownErr, context.DeadlineExceeded) {
		logger.Warn("requests still active after shutdown timeout, closing")
		_ = srv.Close()
	}
	if err := <-served; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return shutdownErr
}
