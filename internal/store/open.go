// Package store selects the persistence backend of the import engine.
package store

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/lims/internal/config"
	"github.com/JonMunkholm/lims/internal/core"
	"github.com/JonMunkholm/lims/internal/store/postgres"
	"github.com/JonMunkholm/lims/internal/store/sqlite"
)

// Store is what the binaries need from a backend: the engine's store, the
// audit trail and schema management.
type Store interface {
	core.Store
	core.AuditSink
	core.AuditReader
	Migrate(ctx context.Context) error
}

var (
	_ Store = (*postgres.Store)(nil)
	_ Store = (*sqlite.Store)(nil)
)

// Open connects the backend named by cfg.Driver. The schema is applied when
// cfg.ApplySchema is set; the SQLite store always applies it.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.DriverPostgres, "":
		s, err := postgres.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.ApplySchema {
			if err := s.Migrate(ctx); err != nil {
				_ = s.Close()
				return nil, err
			}
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
