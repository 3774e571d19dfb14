package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bengobox/oauth2-provider/internal/services/auth"
	"github.com/bengobox/oauth2-provider/internal/services/oauth"
	"github.com/bengobox/oauth2-provider/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAuthenticator struct {
	principal *oauth.Principal
	err       error
}

func (f fakeAuthenticator) AuthenticateRequest(context.Context, string) (*oauth.Principal, error) {
	return f.principal, f.err
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequireAuth(t *testing.T) {
	tests := []struct {
		name       string
		auth       fakeAuthenticator
		wantStatus int
		wantHeader string
	}{
		{name: "valid", auth: fakeAuthenticator{principal: &oauth.Principal{Scope: "profile"}}, wantStatus: http.StatusNoContent},
		{name: "invalid", auth: fakeAuthenticator{err: oauth.ErrUnauthorized}, wantStatus: http.StatusUnauthorized, wantHeader: `Bearer error="invalid_token"`},
		{name: "store failure", auth: fakeAuthenticator{err: oauth.ErrServerError}, wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			rec := httptest.NewRecorder()
			NewAuth(tt.auth).RequireAuth(okHandler(&called)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantHeader, rec.Header().Get("WWW-Authenticate"))
			assert.Equal(t, tt.wantStatus == http.StatusNoContent, called)
		})
	}
}

func TestRequireScope(t *testing.T) {
	a := NewAuth(fakeAuthenticator{principal: &oauth.Principal{Scope: "email"}})

	var called bool
	rec := httptest.NewRecorder()
	a.RequireAuth(a.RequireScope("profile")(okHandler(&called))).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, `Bearer error="insufficient_scope"`, rec.Header().Get("WWW-Authenticate"))
	assert.Contains(t, rec.Body.String(), "insufficient_scope")
	assert.False(t, called)

	rec = httptest.NewRecorder()
	a.RequireAuth(a.RequireScope("email")(okHandler(&called))).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, called)
}

type fakeResolver struct {
	users map[string]*store.User
	err   error
}

func (f fakeResolver) CurrentUser(_ context.Context, id string) (*store.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, auth.ErrNoSession
	}
	return u, nil
}

func (f fakeResolver) ContinuationFor(returnTo string) (string, error) {
	return "signed:" + returnTo, nil
}

func newSessions(r fakeResolver) *Sessions {
	return NewSessions(r, CookieConfig{Name: "sid"}, zap.NewNop())
}

func TestSessionsLoad(t *testing.T) {
	alice := &store.User{ID: "u1", Username: "alice"}
	s := newSessions(fakeResolver{users: map[string]*store.User{"live": alice}})

	var got *store.User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = UserFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "live"})
	s.Load(next).ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Username)

	got = nil
	rec := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "stale"})
	s.Load(next).ServeHTTP(rec, req)
	assert.Nil(t, got)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "Max-Age=0")
}

func TestSessionsLoadStoreFailure(t *testing.T) {
	s := newSessions(fakeResolver{err: errors.New("redis down")})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "x"})
	rec := httptest.NewRecorder()
	var called bool
	s.Load(okHandler(&called)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, called)
}

func TestRequireUserRedirects(t *testing.T) {
	s := newSessions(fakeResolver{})
	var called bool

	rec := httptest.NewRecorder()
	s.RequireUser(okHandler(&called)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/authorize?client_id=x", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?continue=signed%3A%2Foauth%2Fauthorize%3Fclient_id%3Dx", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	s.RequireUser(okHandler(&called)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/clients", nil))
	assert.Equal(t, "/login?continue=signed%3A%2F", rec.Header().Get("Location"))
	assert.False(t, called)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithUser(req.Context(), &store.User{ID: "u1"}))
	s.RequireUser(okHandler(&called)).ServeHTTP(rec, req)
	assert.True(t, called)
}

func TestSetCookieAttributes(t *testing.T) {
	s := NewSessions(fakeResolver{}, CookieConfig{Name: "sid", Secure: true, TTL: time.Hour}, zap.NewNop())
	rec := httptest.NewRecorder()
	s.SetCookie(rec, "abc")
	c := rec.Result().Cookies()
	require.Len(t, c, 1)
	assert.Equal(t, "abc", c[0].Value)
	assert.True(t, c[0].HttpOnly)
	assert.True(t, c[0].Secure)
	assert.Equal(t, http.SameSiteLaxMode, c[0].SameSite)
	assert.Equal(t, 3600, c[0].MaxAge)
}
