package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/drillplan/internal/config"
	"github.com/JonMunkholm/drillplan/internal/importer"
	"github.com/JonMunkholm/drillplan/internal/logging"
	"github.com/JonMunkholm/drillplan/internal/store"
	"github.com/JonMunkholm/drillplan/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store_driver", cfg.Store.Driver,
		"batch_policy", cfg.Import.BatchPolicy,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	st, err := store.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	service, err := importer.NewService(st, cfg.Import)
	if err != nil {
		slog.Error("failed to create import service", "error", err)
		os.Exit(1)
	}

	// Cancellable context for background jobs and the rate limiter sweeps
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	retention, err := importer.NewRetentionJob(st, cfg.History.RetentionWindow(), cfg.History.PruneSchedule)
	if err != nil {
		slog.Error("failed to configure history retention", "error", err)
		os.Exit(1)
	}
	if err := retention.Start(jobCtx); err != nil {
		slog.Error("failed to start history retention", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(jobCtx, service, st, cfg)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests first, then let running imports finish
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		if status := service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
			if err := service.WaitForImports(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}

		cancelJobs()
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
