package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	_ "time/tzdata"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := BuildApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := app.Config
	log := app.Logger

	log.Info("starting starkit server",
		zap.String("environment", string(cfg.Environment)),
		zap.String("profile", cfg.Profile),
		zap.String("address", cfg.Server.Address),
		zap.String("storage_adapter", cfg.Storage.Adapter),
		zap.String("timezone", cfg.Gamification.Timezone))

	// keep 90 days of daily KPIs, pruned hourly
	app.Analytics.Start(ctx, time.Hour, 90*24*time.Hour)

	srv := app.Server
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error("server failed", zap.Error(err))
		cleanup()
		os.Exit(1)
	}

	log.Info("shutting down server", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("error during server shutdown", zap.Error(err))
		return
	}

	log.Info("server stopped")
}
