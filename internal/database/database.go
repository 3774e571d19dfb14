package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/bengobox/oauth2-provider/internal/config"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	gooseDatabase "github.com/pressly/goose/v3/database"
	_ "modernc.org/sqlite" // register sqlite driver
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Open connects to the configured relational store and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", cfg.Driver, err)
	}

	if cfg.Driver == config.DriverSQLite {
		// SQLite allows a single writer; serialising on one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	return sqlx.NewDb(db, bindDriverName(cfg.Driver)), nil
}

// RunMigrations applies all pending goose migrations.
func RunMigrations(ctx context.Context, db *sqlx.DB, driver string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	provider, err := newProvider(db, driver)
	if err != nil {
		return err
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// MigrationStatus reports every known migration and whether it is applied.
func MigrationStatus(ctx context.Context, db *sqlx.DB, driver string) ([]*goose.MigrationStatus, error) {
	provider, err := newProvider(db, driver)
	if err != nil {
		return nil, err
	}
	status, err := provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration status: %w", err)
	}
	return status, nil
}

func newProvider(db *sqlx.DB, driver string) (*goose.Provider, error) {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations sub filesystem: %w", err)
	}
	provider, err := goose.NewProvider(dialect(driver), db.DB, migrationFS)
	if err != nil {
		return nil, fmt.Errorf("create goose provider: %w", err)
	}
	return provider, nil
}

func dialect(driver string) gooseDatabase.Dialect {
	if driver == config.DriverPostgres {
		return gooseDatabase.DialectPostgres
	}
	return gooseDatabase.DialectSQLite3
}

// bindDriverName maps the sql driver to the name sqlx uses to pick a bind style.
func bindDriverName(driver string) string {
	if driver == config.DriverSQLite {
		return "sqlite3"
	}
	return driver
}
