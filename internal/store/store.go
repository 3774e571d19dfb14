// Package store persists users, OAuth2 clients, authorization codes and
// tokens in the relational database.
package store

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("store: duplicate value")
	// ErrConflict is returned when a compare-and-set lost the race.
	ErrConflict = errors.New("store: conflicting update")
)

// Store groups the repositories sharing one database handle.
type Store struct {
	db      *sqlx.DB
	Users   *Users
	Clients *Clients
	Codes   *Codes
	Tokens  *Tokens
}

// New constructs a Store backed by db.
func New(db *sqlx.DB) *Store {
	return &Store{
		db:      db,
		Users:   &Users{db: db},
		Clients: &Clients{db: db},
		Codes:   &Codes{db: db},
		Tokens:  &Tokens{db: db},
	}
}

// DB exposes the underlying handle for collaborators sharing the schema.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sqlx.Tx) { _ = tx.Rollback() }
