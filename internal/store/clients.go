package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Token endpoint authentication methods.
const (
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
	AuthMethodNone              = "none"
)

// ClientMetadata is the registration document stored alongside a client.
type ClientMetadata struct {
	ClientName              string   `json:"client_name"`
	ClientURI               string   `json:"client_uri,omitempty"`
	GrantTypes              []string `json:"grant_types"`
	RedirectURIs            []string `json:"redirect_uris"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// Value implements driver.Valuer.
func (m ClientMetadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *ClientMetadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case nil:
		*m = ClientMetadata{}
		return nil
	default:
		return fmt.Errorf("client metadata: unsupported type %T", src)
	}
	return json.Unmarshal(raw, m)
}

// Client is a registered OAuth2 application owned by a user.
type Client struct {
	ClientID              string         `db:"client_id"`
	ClientSecret          string         `db:"client_secret"`
	ClientIDIssuedAt      int64          `db:"client_id_issued_at"`
	ClientSecretExpiresAt int64          `db:"client_secret_expires_at"`
	UserID                string         `db:"user_id"`
	Metadata              ClientMetadata `db:"client_metadata"`
}

// AuthMethod returns the configured token endpoint auth method.
func (c *Client) AuthMethod() string {
	if c.Metadata.TokenEndpointAuthMethod == "" {
		return AuthMethodClientSecretBasic
	}
	return c.Metadata.TokenEndpointAuthMethod
}

// IsPublic reports whether the client has no secret.
func (c *Client) IsPublic() bool {
	return c.AuthMethod() == AuthMethodNone
}

// HasRedirectURI reports whether uri exactly matches a registered redirect URI.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.Metadata.RedirectURIs, uri)
}

// DefaultRedirectURI returns the registered URI when exactly one exists.
func (c *Client) DefaultRedirectURI() (string, bool) {
	if len(c.Metadata.RedirectURIs) != 1 {
		return "", false
	}
	return c.Metadata.RedirectURIs[0], true
}

func (c *Client) HasResponseType(rt string) bool {
	return slices.Contains(c.Metadata.ResponseTypes, rt)
}

func (c *Client) HasGrantType(gt string) bool {
	return slices.Contains(c.Metadata.GrantTypes, gt)
}

// Scopes returns the client's registered scope as a list.
func (c *Client) Scopes() []string {
	return strings.Fields(c.Metadata.Scope)
}

// Clients persists registered OAuth2 clients.
type Clients struct {
	db *sqlx.DB
}

const clientColumns = `client_id, client_secret, client_id_issued_at, client_secret_expires_at, user_id, client_metadata`

// Create inserts a client. ErrDuplicate is returned on a client_id collision.
func (r *Clients) Create(ctx context.Context, c *Client) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO oauth2_clients (`+clientColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
		c.ClientID, c.ClientSecret, c.ClientIDIssuedAt, c.ClientSecretExpiresAt, c.UserID, c.Metadata,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

// Get loads a client by its public identifier.
func (r *Clients) Get(ctx context.Context, clientID string) (*Client, error) {
	var c Client
	err := r.db.GetContext(ctx, &c, r.db.Rebind(`SELECT `+clientColumns+` FROM oauth2_clients WHERE client_id = ?`), clientID)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ListByUser returns the clients owned by userID, oldest first.
func (r *Clients) ListByUser(ctx context.Context, userID string) ([]Client, error) {
	var clients []Client
	err := r.db.SelectContext(ctx, &clients, r.db.Rebind(
		`SELECT `+clientColumns+` FROM oauth2_clients WHERE user_id = ? ORDER BY client_id_issued_at, client_id`), userID)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	return clients, nil
}
