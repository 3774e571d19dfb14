package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/bengobox/oauth2-provider/internal/services/auth"
	"github.com/bengobox/oauth2-provider/internal/store"
	"go.uber.org/zap"
)

// SessionResolver is the slice of the auth service used by session middleware.
type SessionResolver interface {
	CurrentUser(ctx context.Context, sessionID string) (*store.User, error)
	ContinuationFor(returnTo string) (string, error)
}

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
	TTL    time.Duration
}

// Sessions loads the signed-in user from the session cookie.
type Sessions struct {
	resolver SessionResolver
	cookie   CookieConfig
	logger   *zap.Logger
}

// NewSessions constructs the session middleware.
func NewSessions(resolver SessionResolver, cookie CookieConfig, logger *zap.Logger) *Sessions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sessions{resolver: resolver, cookie: cookie, logger: logger}
}

// Load attaches the current user to the request context when the cookie
// names a live session. A stale cookie is treated as anonymous.
func (s *Sessions) Load(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := s.SessionID(r)
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, err := s.resolver.CurrentUser(r.Context(), id)
		switch {
		case errors.Is(err, auth.ErrNoSession):
			s.ClearCookie(w)
			next.ServeHTTP(w, r)
		case err != nil:
			s.logger.Error("load session", zap.Error(err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
		default:
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		}
	})
}

// RequireUser sends anonymous visitors to the login page, carrying where
// they were headed in a signed continuation token.
func (s *Sessions) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			s.RedirectToLogin(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RedirectToLogin redirects to /login. Only GET requests can be replayed
// after login; anything else continues at the home page.
func (s *Sessions) RedirectToLogin(w http.ResponseWriter, r *http.Request) {
	returnTo := "/"
	if r.Method == http.MethodGet {
		returnTo = r.URL.RequestURI()
	}
	token, err := s.resolver.ContinuationFor(returnTo)
	if err != nil {
		s.logger.Error("sign continuation", zap.Error(err))
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/login?continue="+url.QueryEscape(token), http.StatusFound)
}

// SessionID returns the raw session cookie value.
func (s *Sessions) SessionID(r *http.Request) string {
	c, err := r.Cookie(s.cookie.Name)
	if err != nil {
		return ""
	}
	return c.Value
}

// SetCookie writes the session cookie.
func (s *Sessions) SetCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookie.Name,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(s.cookie.TTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (s *Sessions) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

type userContextKey struct{}

// UserFromContext returns the user attached by Load.
func UserFromContext(ctx context.Context) (*store.User, bool) {
	user, ok := ctx.Value(userContextKey{}).(*store.User)
	return user, ok && user != nil
}

// WithUser returns ctx carrying user.
func WithUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}
