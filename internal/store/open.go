package store

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/JonMunkholm/drillplan/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Backend is the full persistence contract implemented by Postgres and SQLite.
type Backend interface {
	ListCategories(ctx context.Context, ownerID string) ([]Category, error)
	CreateCategory(ctx context.Context, ownerID, name string) (Category, error)
	ListDrills(ctx context.Context, ownerID string) ([]Drill, error)
	ListDrillNames(ctx context.Context, ownerID string) ([]string, error)
	InsertDrills(ctx context.Context, drills []NewDrill) ([]string, error)
	InsertDrillsEach(ctx context.Context, drills []NewDrill) ([]InsertOutcome, error)

	RecordImportRun(ctx context.Context, run ImportRun) (ImportRun, error)
	ListImportRuns(ctx context.Context, ownerID string, limit int) ([]ImportRun, error)
	PruneImportRuns(ctx context.Context, before time.Time) (int64, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*Postgres)(nil)
	_ Backend = (*SQLite)(nil)
)

// Open connects to the backend selected by cfg.Store.Driver, verifies the
// connection, and runs migrations when cfg.Store.AutoMigrate is set.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	var (
		backend Backend
		err     error
	)

	switch strings.ToLower(cfg.Store.Driver) {
	case config.DriverPostgres:
		backend, err = openPostgres(ctx, cfg.Database)
	case config.DriverSQLite:
		backend, err = OpenSQLite(cfg.Store.SQLitePath)
		if err == nil {
			slog.Info("opened sqlite database", "path", cfg.Store.SQLitePath)
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := backend.Ping(ctx); err != nil {
		backend.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.Store.AutoMigrate {
		if err := backend.Migrate(ctx); err != nil {
			backend.Close()
			return nil, err
		}
		slog.Debug("schema migrated", "driver", cfg.Store.Driver)
	}

	return backend, nil
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	return NewPostgres(pool), nil
}
