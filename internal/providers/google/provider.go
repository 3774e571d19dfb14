package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bengobox/oauth2-provider/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const defaultUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

// ErrProfileIncomplete indicates Google returned a profile without subject or email.
var ErrProfileIncomplete = errors.New("google profile missing required fields")

// Identity is the verified subset of a Google account used to map a local user.
type Identity struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// Provider wraps Google OAuth operations.
type Provider struct {
	cfg         config.GoogleProviderConfig
	oauthConfig *oauth2.Config
	userInfoURL string
}

// Option customises a Provider.
type Option func(*Provider)

// WithEndpoint overrides the Google OAuth endpoints.
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(p *Provider) { p.oauthConfig.Endpoint = endpoint }
}

// WithUserInfoURL overrides the userinfo endpoint.
func WithUserInfoURL(url string) Option {
	return func(p *Provider) { p.userInfoURL = url }
}

// New creates a Provider when Google OAuth is enabled. Returns nil if disabled.
func New(cfg config.GoogleProviderConfig, opts ...Option) (*Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RedirectURL == "" {
		return nil, fmt.Errorf("google provider requires client id, secret, and redirect url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	p := &Provider{
		cfg: cfg,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				"openid",
				"profile",
				"email",
			},
			Endpoint: google.Endpoint,
		},
		userInfoURL: defaultUserInfoURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// AuthCodeURL constructs the Google authorization URL.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauthConfig.AuthCodeURL(
		state,
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

// Exchange swaps the authorization code for tokens and resolves the account
// profile. The whole round trip is bounded by the configured timeout.
func (p *Provider) Exchange(ctx context.Context, code string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: p.cfg.Timeout})

	token, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange google oauth code: %w", err)
	}
	return p.fetchProfile(ctx, token)
}

func (p *Provider) fetchProfile(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build google profile request: %w", err)
	}
	resp, err := p.oauthConfig.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch google profile: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("google profile request failed: status=%d", resp.StatusCode)
	}

	var identity Identity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return nil, fmt.Errorf("decode google profile: %w", err)
	}
	if identity.Subject == "" || identity.Email == "" {
		return nil, ErrProfileIncomplete
	}
	return &identity, nil
}
