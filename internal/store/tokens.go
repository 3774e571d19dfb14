package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Token is an issued access token with an optional refresh token.
type Token struct {
	ID                    string         `db:"id"`
	ClientID              string         `db:"client_id"`
	UserID                sql.NullString `db:"user_id"`
	TokenType             string         `db:"token_type"`
	AccessToken           string         `db:"access_token"`
	RefreshToken          sql.NullString `db:"refresh_token"`
	Scope                 string         `db:"scope"`
	IssuedAt              int64          `db:"issued_at"`
	ExpiresIn             int64          `db:"expires_in"`
	RefreshTokenExpiresIn int64          `db:"refresh_token_expires_in"`
	Revoked               bool           `db:"revoked"`
}

// Valid reports whether the access token is usable at now. A token is
// invalid from the second its lifetime elapses.
func (t *Token) Valid(now time.Time) bool {
	return !t.Revoked && now.Unix() < t.IssuedAt+t.ExpiresIn
}

// RefreshValid reports whether the refresh token is usable at now.
func (t *Token) RefreshValid(now time.Time) bool {
	return !t.Revoked && t.RefreshToken.Valid && now.Unix() < t.IssuedAt+t.RefreshTokenExpiresIn
}

// Tokens persists issued tokens.
type Tokens struct {
	db *sqlx.DB
}

const tokenColumns = `id, client_id, user_id, token_type, access_token, refresh_token, scope, issued_at, expires_in, refresh_token_expires_in, revoked`

// Create stores an issued token. ErrDuplicate signals a token value collision.
func (r *Tokens) Create(ctx context.Context, t *Token) error {
	return insertToken(ctx, r.db, t)
}

func insertToken(ctx context.Context, db sqlx.ExtContext, t *Token) error {
	_, err := db.ExecContext(ctx, db.Rebind(
		`INSERT INTO oauth2_tokens (`+tokenColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.ClientID, t.UserID, t.TokenType, t.AccessToken, t.RefreshToken,
		t.Scope, t.IssuedAt, t.ExpiresIn, t.RefreshTokenExpiresIn, t.Revoked,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// GetByAccessToken loads the row holding the given access token.
func (r *Tokens) GetByAccessToken(ctx context.Context, accessToken string) (*Token, error) {
	var t Token
	err := r.db.GetContext(ctx, &t, r.db.Rebind(`SELECT `+tokenColumns+` FROM oauth2_tokens WHERE access_token = ?`), accessToken)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// GetByRefreshToken loads the row holding the given refresh token.
func (r *Tokens) GetByRefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	var t Token
	err := r.db.GetContext(ctx, &t, r.db.Rebind(`SELECT `+tokenColumns+` FROM oauth2_tokens WHERE refresh_token = ?`), refreshToken)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// Revoke marks the token row revoked. Revoking twice is not an error.
func (r *Tokens) Revoke(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE oauth2_tokens SET revoked = TRUE WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Redeem consumes the authorization code and stores t in one transaction.
// ErrConflict means the code was already used or has expired; nothing is written.
func (r *Tokens) Redeem(ctx context.Context, code string, now time.Time, t *Token) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	if err := consumeCode(ctx, tx, code, now); err != nil {
		return err
	}
	if err := insertToken(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit redeem: %w", err)
	}
	return nil
}

// Rotate revokes the token with oldID and stores next in one transaction.
// ErrConflict means oldID was already revoked, so a refresh token is only
// ever exchanged once.
func (r *Tokens) Rotate(ctx context.Context, oldID string, next *Token) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE oauth2_tokens SET revoked = TRUE WHERE id = ? AND revoked = FALSE`), oldID)
	if err != nil {
		return fmt.Errorf("revoke rotated token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return ErrConflict
	}

	if err := insertToken(ctx, tx, next); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotate: %w", err)
	}
	return nil
}
