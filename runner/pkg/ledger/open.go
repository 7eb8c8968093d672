package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Logger *slog.Logger
	// Driver is "sqlite" or "postgres".
	Driver string
	// DSN is a file path for sqlite or a connection URL for postgres.
	DSN string
	// Migrate applies pending migrations on open.
	Migrate bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
		if strings.HasPrefix(cfg.DSN, "postgres://") || strings.HasPrefix(cfg.DSN, "postgresql://") {
			cfg.Driver = DriverPostgres
		}
	}
	switch cfg.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported ledger driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return errors.New("dsn is required")
	}
	return nil
}

// Open returns the Store for cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case DriverPostgres:
		return NewPostgresStore(ctx, cfg)
	default:
		return NewSQLiteStore(ctx, cfg)
	}
}

// OpenDB returns a bare database handle for schema administration. Stores are
// opened with Open.
func OpenDB(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	driverName := "sqlite"
	if cfg.Driver == DriverPostgres {
		driverName = "pgx"
	} else if cfg.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			return nil, unavailable("create directory", err)
		}
	}
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, unavailable("open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("ping", err)
	}
	return db, nil
}
