package core

// scheduler.go runs background maintenance for the import service.
//
// Currently it prunes the in-memory import history so a long-running server
// only reports recent imports. The scheduler is context-aware for graceful
// shutdown and never fails the application.

import (
	"context"
	"log/slog"
	"time"
)

// MaintenanceConfig holds configuration for the maintenance scheduler.
// Zero values fall back to defaults.
type MaintenanceConfig struct {
	HistoryRetention time.Duration // how long finished imports stay listed (default: 24h)
	CheckInterval    time.Duration // how often to run (default: 1h)
}

func (c MaintenanceConfig) withDefaults() MaintenanceConfig {
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = 24 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Hour
	}
	return c
}

// StartMaintenance runs maintenance immediately and then every CheckInterval
// until ctx is cancelled. Call it in its own goroutine.
func (s *Service) StartMaintenance(ctx context.Context, cfg MaintenanceConfig) {
	cfg = cfg.withDefaults()
	slog.Info("maintenance scheduler started",
		"history_retention", cfg.HistoryRetention,
		"interval", cfg.CheckInterval,
	)

	s.runMaintenance(cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			s.runMaintenance(cfg)
		}
	}
}

func (s *Service) runMaintenance(cfg MaintenanceConfig) {
	removed := s.history.Prune(time.Now().Add(-cfg.HistoryRetention))
	if removed > 0 {
		slog.Debug("pruned import history", "entries_removed", removed, "entries_kept", s.history.Len())
	}
}
