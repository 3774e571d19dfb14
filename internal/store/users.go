package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// User is a local account. PasswordHash is empty for federated-only accounts.
type User struct {
	ID           string         `db:"id"`
	Username     string         `db:"username"`
	PasswordHash sql.NullString `db:"password_hash"`
	CreatedAt    int64          `db:"created_at"`
}

// HasPassword reports whether the account can sign in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash.Valid && u.PasswordHash.String != ""
}

// Users persists user accounts.
type Users struct {
	db *sqlx.DB
}

const userColumns = `id, username, password_hash, created_at`

// Create inserts a new user. passwordHash may be empty.
func (r *Users) Create(ctx context.Context, username, passwordHash string) (*User, error) {
	u := &User{
		ID:        uuid.NewString(),
		Username:  username,
		CreatedAt: time.Now().Unix(),
	}
	if passwordHash != "" {
		u.PasswordHash = sql.NullString{String: passwordHash, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?)`),
		u.ID, u.Username, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetByID loads a user by id.
func (r *Users) GetByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// GetByUsername loads a user by its unique username.
func (r *Users) GetByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE username = ?`), username)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// FindOrCreateByUsername returns the user with username, creating a password-less
// account when none exists. Concurrent callers converge on the same row.
func (r *Users) FindOrCreateByUsername(ctx context.Context, username string) (*User, bool, error) {
	u, err := r.GetByUsername(ctx, username)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("lookup user: %w", err)
	}

	u, err = r.Create(ctx, username, "")
	if err == nil {
		return u, true, nil
	}
	if !errors.Is(err, ErrDuplicate) {
		return nil, false, err
	}
	u, err = r.GetByUsername(ctx, username)
	if err != nil {
		return nil, false, fmt.Errorf("lookup user after conflict: %w", err)
	}
	return u, false, nil
}
