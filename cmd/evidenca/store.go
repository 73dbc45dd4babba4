package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/erazemk/evidenca/internal/config"
	"github.com/erazemk/evidenca/internal/db"
	"github.com/erazemk/evidenca/internal/store"
	"github.com/erazemk/evidenca/internal/store/postgres"
	"github.com/erazemk/evidenca/internal/store/sqlite"
)

// openStore opens the configured database and migrates it to the latest schema.
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		if err := db.MigratePostgres(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		pool, err := db.OpenPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		slog.Info("database ready", "driver", cfg.DBDriver)
		return postgres.New(pool), nil

	case config.DriverSQLite:
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(database); err != nil {
			database.Close()
			return nil, err
		}
		slog.Info("database ready", "driver", cfg.DBDriver, "path", cfg.DBPath)
		return sqlite.New(database), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.DBDriver)
}
