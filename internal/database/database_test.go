package database_test

import (
	"context"
	"testing"

	"github.com/bengobox/oauth2-provider/internal/config"
	"github.com/bengobox/oauth2-provider/internal/database"
	"github.com/bengobox/oauth2-provider/internal/database/dbtest"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
)

func TestMigrationsCreateTables(t *testing.T) {
	db := dbtest.New(t)

	for _, table := range []string{"users", "oauth2_clients", "oauth2_authorization_codes", "oauth2_tokens", "audit_logs"} {
		var count int
		err := db.Get(&count, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
		require.NoError(t, err)
		require.Equal(t, 1, count, "table %s", table)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := dbtest.New(t)
	require.NoError(t, database.RunMigrations(context.Background(), db, config.DriverSQLite))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := database.Open(context.Background(), config.DatabaseConfig{Driver: "nope", URL: "x"})
	require.Error(t, err)
}

func TestMigrationStatus(t *testing.T) {
	db := dbtest.New(t)
	status, err := database.MigrationStatus(context.Background(), db, config.DriverSQLite)
	require.NoError(t, err)
	require.NotEmpty(t, status)
	for _, s := range status {
		require.Equal(t, goose.StateApplied, s.State, "migration %d", s.Source.Version)
	}
}
