package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/lims/internal/config"
	"github.com/JonMunkholm/lims/internal/core"
	_ "github.com/JonMunkholm/lims/internal/core/tables" // Register all entities
	"github.com/JonMunkholm/lims/internal/logging"
	"github.com/JonMunkholm/lims/internal/store"
	"github.com/JonMunkholm/lims/internal/web"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"import_batch_size", cfg.Import.BatchSize,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to database", "driver", cfg.Database.Driver)

	logger := slog.Default()
	service := core.NewService(st, cfg.Import,
		core.WithLogger(logger),
		core.WithMetrics(core.NewMetrics(cfg.Metrics.Namespace)),
		core.WithAuditSink(core.MultiAuditSink{st, core.NewLogAuditSink(logger)}),
	)

	slog.Info("entities registered", "count", core.TableCount())
	for _, def := range core.All() {
		slog.Debug("entity", "entity", def.Info.Entity, "table", def.Info.Table, "fields", len(def.FieldSpecs))
	}

	server := web.NewServer(service, cfg)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartMaintenance(jobCtx, core.MaintenanceConfig{})

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Running imports finish their current batch before the store closes.
		if status := service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
			if err := service.WaitForImports(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		cancelJobs()
		return
	}
	<-done
}
