package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// AuthorizationCode is a single-use grant bound to client, user and redirect URI.
type AuthorizationCode struct {
	Code                string `db:"code"`
	ClientID            string `db:"client_id"`
	UserID              string `db:"user_id"`
	Scope               string `db:"scope"`
	RedirectURI         string `db:"redirect_uri"`
	ResponseType        string `db:"response_type"`
	CodeChallenge       string `db:"code_challenge"`
	CodeChallengeMethod string `db:"code_challenge_method"`
	IssuedAt            int64  `db:"issued_at"`
	ExpiresAt           int64  `db:"expires_at"`
	Consumed            bool   `db:"consumed"`
}

// Expired reports whether the code can no longer be redeemed at now.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return now.Unix() >= c.ExpiresAt
}

// Codes persists authorization codes.
type Codes struct {
	db *sqlx.DB
}

const codeColumns = `code, client_id, user_id, scope, redirect_uri, response_type, code_challenge, code_challenge_method, issued_at, expires_at, consumed`

// Create stores a freshly issued code.
func (r *Codes) Create(ctx context.Context, c *AuthorizationCode) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO oauth2_authorization_codes (`+codeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.Code, c.ClientID, c.UserID, c.Scope, c.RedirectURI, c.ResponseType,
		c.CodeChallenge, c.CodeChallengeMethod, c.IssuedAt, c.ExpiresAt, c.Consumed,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert authorization code: %w", err)
	}
	return nil
}

// Get loads a code regardless of its consumed or expiry state.
func (r *Codes) Get(ctx context.Context, code string) (*AuthorizationCode, error) {
	var c AuthorizationCode
	err := r.db.GetContext(ctx, &c, r.db.Rebind(`SELECT `+codeColumns+` FROM oauth2_authorization_codes WHERE code = ?`), code)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// consumeCode marks code as used. ErrConflict is returned when the code was
// already consumed or has expired.
func consumeCode(ctx context.Context, db sqlx.ExtContext, code string, now time.Time) error {
	res, err := db.ExecContext(ctx, db.Rebind(
		`UPDATE oauth2_authorization_codes SET consumed = TRUE WHERE code = ? AND consumed = FALSE AND expires_at > ?`),
		code, now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("consume authorization code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return ErrConflict
	}
	return nil
}
