package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/clive/apps/casegen/internal/api"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return opts.withApp(ctx, func(app *App) error {
				return serve(ctx, app)
			})
		},
	}
}

func serve(ctx context.Context, app *App) error {
	cfg, logger := app.Config, app.Logger

	router := api.NewRouter(
		app.DB, app.Router, app.Sessions, app.Corpus, app.Provider,
		app.InferencePinger(), app.QdrantPinger(), cfg.APIKey, logger,
	)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// a dispatch runs the whole pipeline
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("casegen server starting", "addr", addr,
			"storage", cfg.StorageBackend,
			"inference", cfg.InferenceBackend,
			"vector", cfg.VectorEnabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Auto-sync corpus on startup
	if cfg.CorpusAutoSync && len(cfg.CorpusDirs) > 0 {
		go func() {
			result, err := app.Corpus.Sync(ctx)
			if err != nil {
				logger.Error("corpus auto-sync failed", "error", err)
				return
			}
			logger.Info("corpus auto-sync complete",
				"found", result.Found,
				"stored", result.Stored,
				"errors", result.Errors,
			)
		}()
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
