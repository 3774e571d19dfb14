package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/bengobox/oauth2-provider/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

// oauth2-setup-db creates the Postgres database named in AUTH_DB_URL by
// connecting to the server's maintenance database. SQLite needs no setup.
func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Database.Driver != config.DriverPostgres {
		fmt.Println("database driver is not postgres; nothing to do")
		return
	}

	parsed, err := url.Parse(cfg.Database.URL)
	if err != nil {
		log.Fatalf("failed to parse DB URL: %v", err)
	}
	dbName, err := url.PathUnescape(strings.TrimPrefix(parsed.Path, "/"))
	if err != nil {
		log.Fatalf("failed to unescape database name: %v", err)
	}
	if dbName == "" {
		log.Fatal("no database name in URL")
	}

	maintenance := *parsed
	maintenance.Path = "/postgres"
	db, err := sql.Open("pgx", maintenance.String())
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}

	_, err = db.ExecContext(ctx, "CREATE DATABASE "+pgx.Identifier{dbName}.Sanitize())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42P04" {
		fmt.Printf("Database '%s' already exists\n", dbName)
		return
	}
	if err != nil {
		log.Fatalf("failed to create database: %v", err)
	}
	fmt.Printf("Database '%s' created\n", dbName)
}
