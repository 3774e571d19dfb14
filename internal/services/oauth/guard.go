package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bengobox/oauth2-provider/internal/metrics"
	"github.com/bengobox/oauth2-provider/internal/providers/google"
	"github.com/bengobox/oauth2-provider/internal/store"
	"go.uber.org/zap"
)

// Principal is the caller resolved from a bearer token.
type Principal struct {
	// Token is nil for federated ID tokens.
	Token *store.Token
	// User is nil for client_credentials tokens.
	User     *store.User
	ClientID string
	Scope    string
	Strategy string
}

// HasScope reports whether the principal was granted scope.
func (p *Principal) HasScope(scope string) bool {
	return HasScope(p.Scope, scope)
}

// TokenStrategy resolves a raw bearer value to a principal.
type TokenStrategy interface {
	Authenticate(ctx context.Context, raw string) (*Principal, error)
}

// IDTokenVerifier checks a federated ID token.
type IDTokenVerifier interface {
	Verify(ctx context.Context, raw string) (*google.Identity, error)
}

// LocalTokenStrategy validates opaque tokens issued by this server.
type LocalTokenStrategy struct {
	Tokens *store.Tokens
	Users  *store.Users
	Now    func() time.Time
}

// Authenticate implements TokenStrategy.
func (l *LocalTokenStrategy) Authenticate(ctx context.Context, raw string) (*Principal, error) {
	tok, err := l.Tokens.GetByAccessToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	if !tok.Valid(now()) {
		return nil, ErrUnauthorized
	}

	p := &Principal{Token: tok, ClientID: tok.ClientID, Scope: tok.Scope, Strategy: "local"}
	if tok.UserID.Valid {
		user, err := l.Users.GetByID(ctx, tok.UserID.String)
		if err != nil {
			return nil, err
		}
		p.User = user
	}
	return p, nil
}

// federatedScope is granted to verified federated ID tokens.
const federatedScope = "openid profile email"

// FederatedTokenStrategy accepts Google ID tokens for users who already
// have a federated-only local account under the token's verified email.
type FederatedTokenStrategy struct {
	Verifier IDTokenVerifier
	Users    *store.Users
}

// Authenticate implements TokenStrategy.
func (f *FederatedTokenStrategy) Authenticate(ctx context.Context, raw string) (*Principal, error) {
	identity, err := f.Verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !identity.EmailVerified {
		return nil, ErrUnauthorized
	}
	user, err := f.Users.GetByUsername(ctx, strings.ToLower(identity.Email))
	if err != nil {
		return nil, err
	}
	if user.HasPassword() {
		return nil, ErrUnauthorized
	}
	return &Principal{User: user, Scope: federatedScope, Strategy: "federated"}, nil
}

// Guard authenticates bearer requests against protected resources.
type Guard struct {
	local     TokenStrategy
	federated TokenStrategy
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// GuardDependencies aggregates Guard inputs. Federated may be nil.
type GuardDependencies struct {
	Local     TokenStrategy
	Federated TokenStrategy
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// NewGuard constructs a Guard.
func NewGuard(deps GuardDependencies) *Guard {
	g := &Guard{local: deps.Local, federated: deps.Federated, metrics: deps.Metrics, logger: deps.Logger}
	if g.metrics == nil {
		g.metrics = metrics.Nop()
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	return g
}

// AuthenticateRequest resolves the Authorization header value. Every
// failure is reported as ErrUnauthorized, whatever the cause.
func (g *Guard) AuthenticateRequest(ctx context.Context, header string) (*Principal, error) {
	raw, ok := ParseBearer(header)
	if !ok {
		return nil, g.reject("malformed")
	}

	strategy := g.local
	if g.federated != nil && LooksLikeJWT(raw) {
		strategy = g.federated
	}
	p, err := strategy.Authenticate(ctx, raw)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, ErrUnauthorized), errors.Is(err, store.ErrNotFound):
		g.logger.Debug("bearer token rejected", zap.Error(err))
		return nil, g.reject("invalid")
	default:
		g.logger.Error("bearer token lookup failed", zap.Error(err))
		return nil, ErrServerError
	}
}

func (g *Guard) reject(reason string) error {
	g.metrics.GuardRejections.WithLabelValues(reason).Inc()
	return ErrUnauthorized
}

// ParseBearer extracts the token from "Bearer <token>".
func ParseBearer(header string) (string, bool) {
	scheme, value, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" || strings.ContainsAny(value, " \t") {
		return "", false
	}
	return value, true
}

// LooksLikeJWT reports whether raw has three non-empty dot-separated segments.
// Locally issued tokens are base64url and never contain dots.
func LooksLikeJWT(raw string) bool {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
