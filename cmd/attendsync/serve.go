package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/kimhsiao/attendsync/internal/logging"
)

// serve runs srv until ctx is done, then shuts it down within timeout.
func serve(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info("Listening", map[string]interface{}{"addr": srv.Addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logging.Info("Shutting down", map[string]interface{}{"addr": srv.Addr})
	return srv.Shutdown(shutdownCtx)
}
