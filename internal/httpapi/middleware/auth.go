package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bengobox/oauth2-provider/internal/services/oauth"
)

// BearerAuthenticator resolves an Authorization header to a principal.
type BearerAuthenticator interface {
	AuthenticateRequest(ctx context.Context, header string) (*oauth.Principal, error)
}

// Auth provides bearer-token middleware for the resource API.
type Auth struct {
	authenticator BearerAuthenticator
}

// NewAuth creates a new instance.
func NewAuth(authenticator BearerAuthenticator) *Auth {
	return &Auth{authenticator: authenticator}
}

// RequireAuth ensures incoming requests carry a valid bearer token.
// Missing, unknown, revoked and expired tokens all get the same 401.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.authenticator.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			writeBearerError(w, oauth.AsError(err))
			return
		}
		ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope rejects principals whose token does not grant scope.
// It must run after RequireAuth.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeBearerError(w, oauth.ErrUnauthorized)
				return
			}
			if !principal.HasScope(scope) {
				writeBearerError(w, oauth.ErrInsufficientScope.WithDescription(fmt.Sprintf("scope %q is required", scope)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeBearerError(w http.ResponseWriter, e *oauth.Error) {
	switch {
	case errors.Is(e, oauth.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	case errors.Is(e, oauth.ErrInsufficientScope):
		w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":             e.Code,
		"error_description": e.Description,
	})
}

type principalContextKey struct{}

// PrincipalFromContext extracts the principal stored by RequireAuth.
func PrincipalFromContext(ctx context.Context) (*oauth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*oauth.Principal)
	return p, ok && p != nil
}
