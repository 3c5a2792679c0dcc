package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/elga-io/corgi/internal/config"
	"github.com/elga-io/corgi/internal/logger"
)

func NewServer(port string, h http.Handler, cfg config.ServerConfig) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully
// within timeout.
func Serve(ctx context.Context, srv *http.Server, timeout time.Duration, log *logger.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down %s", srv.Addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		if closeErr := srv.Close(); closeErr != nil {
			return fmt.Errorf("failed to close server: %w", closeErr)
		}
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
