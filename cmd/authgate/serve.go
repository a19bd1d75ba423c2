package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/backend/httpapi"
	"github.com/MrEthical07/authgate/internal/observability"
)

// serve exposes the reference directory over the authentication REST API.
func serve(ctx context.Context, cfg authgate.Config, opts options, logger *slog.Logger) error {
	if cfg.Backend.Kind == "http" {
		return errors.New("serve mode needs a directory backend (memory, sqlite or postgres)")
	}

	var cleanup closers
	defer cleanup.run()

	tokens, err := newTokenManager(cfg.Token, logger)
	if err != nil {
		return err
	}
	dir, err := openDirectory(ctx, cfg.Backend, tokens, &cleanup, logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/auth/", httpapi.NewHandler(dir, logger))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              opts.listen,
		Handler:           observability.Recover(logger, observability.RequestLogging(logger, mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving directory", "addr", opts.listen, "backend", cfg.Backend.Kind)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
