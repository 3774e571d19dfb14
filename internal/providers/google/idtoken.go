package google

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

const (
	// Issuer is the issuer Google stamps on ID tokens.
	Issuer  = "https://accounts.google.com"
	jwksURL = "https://www.googleapis.com/oauth2/v3/certs"
)

// IDTokenVerifier checks Google-issued ID tokens presented as bearer tokens.
type IDTokenVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewIDTokenVerifier verifies tokens against Google's published keys. Keys
// are fetched lazily on first use, each fetch bounded by timeout.
func NewIDTokenVerifier(ctx context.Context, clientID string, timeout time.Duration) *IDTokenVerifier {
	return newRemoteVerifier(ctx, Issuer, jwksURL, clientID, timeout)
}

func newRemoteVerifier(ctx context.Context, issuer, keysURL, clientID string, timeout time.Duration) *IDTokenVerifier {
	ctx = oidc.ClientContext(ctx, &http.Client{Timeout: timeout})
	return NewIDTokenVerifierWithKeySet(issuer, clientID, oidc.NewRemoteKeySet(ctx, keysURL))
}

// NewIDTokenVerifierWithKeySet verifies tokens from issuer signed by keySet.
func NewIDTokenVerifierWithKeySet(issuer, clientID string, keySet oidc.KeySet) *IDTokenVerifier {
	return &IDTokenVerifier{
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: clientID}),
	}
}

// Verify validates signature, issuer, audience and expiry of raw.
func (v *IDTokenVerifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	token, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("verify google id token: %w", err)
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode google id token claims: %w", err)
	}
	if claims.Email == "" {
		return nil, ErrProfileIncomplete
	}
	return &Identity{
		Subject:       token.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}
