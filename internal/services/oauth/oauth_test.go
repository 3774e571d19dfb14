package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/bengobox/oauth2-provider/internal/audit"
	"github.com/bengobox/oauth2-provider/internal/config"
	"github.com/bengobox/oauth2-provider/internal/database/dbtest"
	"github.com/bengobox/oauth2-provider/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const redirectURI = "https://app.example/cb"

type harness struct {
	svc   *Service
	store *store.Store
	alice *store.User
	now   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := dbtest.New(t)
	st := store.New(db)
	h := &harness{store: st, now: time.Unix(1_700_000_000, 0)}
	h.svc = New(Dependencies{
		Store: st,
		Config: config.TokenConfig{
			AccessTokenTTL:       time.Hour,
			RefreshTokenTTL:      24 * time.Hour,
			AuthorizationCodeTTL: 10 * time.Minute,
			DefaultScopes:        []string{"profile"},
		},
		Auditor: audit.New(db, zap.NewNop()),
		Logger:  zap.NewNop(),
	}).WithNow(func() time.Time { return h.now })

	alice, err := st.Users.Create(context.Background(), "alice", "")
	require.NoError(t, err)
	h.alice = alice
	return h
}

func (h *harness) register(t *testing.T, method string, grants ...string) *store.Client {
	t.Helper()
	if len(grants) == 0 {
		grants = []string{"authorization_code", "refresh_token"}
	}
	c, err := h.svc.RegisterClient(context.Background(), h.alice.ID, ClientRegistration{
		ClientName:              "demo",
		GrantTypes:              grants,
		RedirectURIs:            []string{redirectURI},
		ResponseTypes:           []string{"code"},
		Scope:                   "profile email",
		TokenEndpointAuthMethod: method,
	})
	require.NoError(t, err)
	return c
}

func basic(c *store.Client) ClientCredentials {
	return ClientCredentials{ID: c.ClientID, Secret: c.ClientSecret, Method: store.AuthMethodClientSecretBasic}
}

// authorize runs the authorization endpoint through approval and returns the code.
func (h *harness) authorize(t *testing.T, req AuthorizationRequest) string {
	t.Helper()
	az, err := h.svc.BeginAuthorization(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StateAwaitingConsent, az.State, "error: %v", az.Err)
	require.NoError(t, az.Approve(context.Background(), h.alice.ID))
	require.Equal(t, StateCodeIssued, az.State)
	return az.Code
}

func codeRequest(c *store.Client) AuthorizationRequest {
	return AuthorizationRequest{ClientID: c.ClientID, RedirectURI: redirectURI, ResponseType: "code", State: "abc"}
}

func TestRegisterClientSecrets(t *testing.T) {
	h := newHarness(t)

	public := h.register(t, store.AuthMethodNone)
	assert.Empty(t, public.ClientSecret)
	assert.Len(t, public.ClientID, 24)

	a := h.register(t, store.AuthMethodClientSecretBasic)
	b := h.register(t, store.AuthMethodClientSecretPost)
	assert.Len(t, a.ClientSecret, 48)
	assert.Len(t, b.ClientSecret, 48)
	assert.NotEqual(t, a.ClientSecret, b.ClientSecret)

	stored, err := h.store.Clients.Get(context.Background(), public.ClientID)
	require.NoError(t, err)
	assert.Equal(t, "", stored.ClientSecret)
}

func TestRegisterClientValidation(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		in   ClientRegistration
	}{
		{name: "missing name", in: ClientRegistration{RedirectURIs: []string{redirectURI}}},
		{name: "bad auth method", in: ClientRegistration{ClientName: "x", RedirectURIs: []string{redirectURI}, TokenEndpointAuthMethod: "private_key_jwt"}},
		{name: "relative redirect", in: ClientRegistration{ClientName: "x", RedirectURIs: []string{"/cb"}}},
		{name: "code grant without redirect", in: ClientRegistration{ClientName: "x"}},
		{name: "unknown grant", in: ClientRegistration{ClientName: "x", GrantTypes: []string{"password"}, RedirectURIs: []string{redirectURI}}},
		{name: "public client credentials", in: ClientRegistration{ClientName: "x", GrantTypes: []string{"client_credentials"}, TokenEndpointAuthMethod: "none"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.RegisterClient(context.Background(), h.alice.ID, tt.in)
			require.ErrorIs(t, err, ErrInvalidClientMetadata)
		})
	}
}

func TestRegisterClientDefaults(t *testing.T) {
	h := newHarness(t)
	c, err := h.svc.RegisterClient(context.Background(), h.alice.ID, ClientRegistration{ClientName: "x", RedirectURIs: []string{redirectURI}})
	require.NoError(t, err)
	assert.Equal(t, []string{"authorization_code"}, c.Metadata.GrantTypes)
	assert.Equal(t, []string{"code"}, c.Metadata.ResponseTypes)
	assert.Equal(t, "profile", c.Metadata.Scope)
	assert.Equal(t, store.AuthMethodClientSecretBasic, c.AuthMethod())
}

func TestBeginAuthorizationNonRedirectErrors(t *testing.T) {
	h := newHarness(t)
	c := h.register(t, store.AuthMethodClientSecretBasic)

	_, err := h.svc.BeginAuthorization(context.Background(), AuthorizationRequest{ClientID: "nope", RedirectURI: redirectURI, ResponseType: "code"})
	require.ErrorIs(t, err, ErrInvalidClient)

	for _, uri := range []string{"https://evil.example/cb", "https://app.example/cb/extra", "https://app.example/c"} {
		az, err := h.svc.BeginAuthorization(context.Background(), AuthorizationRequest{ClientID: c.ClientID, RedirectURI: uri, ResponseType: "code", State: "abc"})
		require.ErrorIs(t, err, ErrInvalidRedirectURI, uri)
		assert.Nil(t, az)
	}

	var codes int
	require.NoError(t, h.store.DB().Get(&codes, `SELECT COUNT(*) FROM oauth2_authorization_codes`))
	assert.Zero(t, codes)
}

func TestBeginAuthorizationRedirectErrors(t *testing.T) {
	h := newHarness(t)
	c := h.register(t, store.AuthMethodClientSecretBasic)
	public := h.register(t, store.AuthMethodNone)

	tests := []struct {
		name string
		req  AuthorizationRequest
		code string
	}{
		{name: "token response type", req: AuthorizationRequest{ClientID: c.ClientID, RedirectURI: redirectURI, ResponseType: "token", State: "abc"}, code: "unsupported_response_type"},
		{name: "scope beyond client", req: AuthorizationRequest{ClientID: c.ClientID, RedirectURI: redirectURI, ResponseType: "code", Scope: "admin", State: "abc"}, code: "invalid_scope"},
		{name: "public without pkce", req: AuthorizationRequest{ClientID: public.ClientID, RedirectURI: redirectURI, ResponseType: "code", State: "abc"}, code: "invalid_request"},
		{name: "bad pkce method", req: AuthorizationRequest{ClientID: c.ClientID, RedirectURI: redirectURI, ResponseType: "code", State: "abc", CodeChallenge: pkceChallenge(verifier), CodeChallengeMethod: "S512"}, code: "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			az, err := h.svc.BeginAuthorization(context.Background(), tt.req)
			require.NoError(t, err)
			require.Equal(t, StateError, az.State)

			loc, err := az.RedirectURL()
			require.NoError(t, err)
			u, err := url.Parse(loc)
			require.NoError(t, err)
			assert.Equal(t, "app.example", u.Host)
			assert.Equal(t, tt.code, u.Query().Get("error"))
			assert.Equal(t, "abc", u.Query().Get("state"))
		})
	}
}

func TestAuthorizationApproveAndDeny(t *testing.T) {
	h := newHarness(t)
	c := h.register(t, store.AuthMethodClientSecretBasic)

	az, err := h.svc.BeginAuthorization(context.Background(), codeRequest(c))
	require.NoError(t, err)
	assert.Equal(t, []string{"profile", "email"}, az.Scopes())
	require.NoError(t, az.Approve(context.Background(), h.alice.ID))
	require.ErrorIs(t, az.Approve(context.Background(), h.alice.ID), ErrInvalidTransition)

	loc, err := az.RedirectURL()
	require.NoError(t, err)
	u, err := url.Parse(loc)
	require.NoError(t, err)
	assert.Equal(t, redirectURI, u.Scheme+"://"+u.Host+u.Path)
	assert.Equal(t, az.Code, u.Query().Get("code"))
	assert.Len(t, az.Code, 48)
	assert.Equal(t, "abc", u.Query().Get("state"))

	denied, err := h.svc.BeginAuthorization(context.Background(), codeRequest(c))
	require.NoError(t, err)
	require.NoError(t, denied.Deny())
	loc, err = denied.RedirectURL()
	require.NoError(t, err)
	u, err = url.Parse(loc)
	require.NoError(t, err)
	assert.Equal(t, "access_denied", u.Query().Get("error"))
	assert.Equal(t, "abc", u.Query().Get("state"))
	assert.Empty(t, u.Query().Get("code"))
}

func TestAuthorizationDefaultsRedirectURI(t *testing.T) {
	h := newHarness(t)
	c := h.register(t, store.AuthMethodClientSecretBasic)

	req := codeRequest(c)
	req.RedirectURI = ""
	code := h.authorize(t, req)

	resp, err := h.svc.IssueToken(context.Background(), TokenRequest{GrantType: GrantAuthorizationCode, Client: basic(c), Code: code})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestIssueTokenAuthorizationCode(t *testing.T) {
	h := newHarness(t)
	c := h.register(t, store.AuthMethodClientSecretBasic)
	code := h.authorize(t, codeRequest(c))

	resp, err := h.svc.IssueToken(context.Background(), TokenRequest{
		GrantType: GrantAuthorizationCode, Client: basic(c), Code: code, RedirectURI: redirectURI,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "profile email", resp.Scope)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotEqual(t, resp.AccessToken, resp.RefreshToken)

	tok, err := h.store.Tokens.GetByAccessToken(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, h.alice.ID, tok.UserID.String)

	_, err = h.svc.IssueToken(context.Background(), TokenRequest{
		GrantType: GrantAuthorizationCode, Client: basic(c), Code: code, RedirectURI: redirectURI,
	})
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestIssueTokenRedirectMismatchKeepsCode(t *testing.T) {
	h := newHarness(t)
	c := h.register(t, store.AuthMethodClientSecretBasic)
	code := h.authorize(t, codeRequest(c))

	_, err := h.svc.IssueToken(context.Background(), TokenRequest{
		GrantType: GrantAuthorizationCode, Client: basic(c), Code: code, RedirectURI: "https://app.example/other",
	})
	require.ErrorIs(t, err, ErrInvalidGrant)

	_, err = h.svc.IssueToken(context.Background(), TokenRequest{
		GrantType: GrantAuthorizationCode, Client: basic(c), Code: code, RedirectURI: redirectURI,
	})
	require.NoError(t, err)
}

func TestIssueTokenExpiredCode(t *testing.T) {
	h := newHarness(t)
	c := h.register(t, store.AuthMethodClientSecretBasic)
	code := h.authorize(t, codeRequest(c))

	h.now = h.now.Add(10 * time.Minute)
	_, err := h.svc.IssueToken(context.Background(), TokenRequest{
		GrantType: GrantAuthorizationCode, Client: basic(c), Code: code, RedirectURI: redirectURI,
	})
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestIssueTokenCodeBoundToClient(t *testing.T) {
	h := newHarness(t)
	c := h.register(t, store.AuthMethodClientSecretBasic)
	other := h.register(t, store.AuthMethodClientSecretBasic)
	code := h.authorize(t, codeRequest(c))

	_, err := h.svc.IssueToken(context.Background(), TokenRequest{
		GrantType: GrantAuthorizationCode, Client: basic(other), Code: code, RedirectURI: redirectURI,
	})
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestIssueTokenConcurrentRedemption(t *testing.T) {
	h := newHarness(t)
	c := h.register(t, store.AuthMethodClientSecretBasic)
	code := h.authorize(t, codeRequest(c))

	const attempts = 10
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.svc.IssueToken(context.Background(), TokenRequest{
				GrantType: GrantAuthorizationCode, Client: basic(c), Code: code, RedirectURI: redirectURI,
			})
		}()
	}
	wg.Wait()

	var ok, invalid int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ErrInvalidGrant):
			invalid++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, invalid)
}

const verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

func pkceChallenge(v string) string {
	sum := sha256.Sum256([]byte(v))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestIssueTokenPKCE(t *testing.T) {
	h := newHarness(t)
	public := h.register(t, store.AuthMethodNone)
	none := ClientCredentials{ID: public.ClientID, Method: store.AuthMethodNone}

	req := codeRequest(public)
	req.CodeChallenge = pkceChallenge(verifier)
	req.CodeChallengeMethod = PKCEMethodS256

	code := h.authorize(t, req)
	_, err := h.svc.IssueToken(context.Background(), TokenRequest{GrantType: GrantAuthorizationCode, Client: none, Code: code, RedirectURI: redirectURI})
	require.ErrorIs(t, err, ErrInvalidGrant)
	_, err = h.svc.IssueToken(context.Background(), TokenRequest{GrantType: GrantAuthorizationCode, Client: none, Code: code, RedirectURI: redirectURI, CodeVerifier: verifier + "x"})
	require.ErrorIs(t, err, ErrInvalidGrant)
	_, err = h.svc.IssueToken(context.Background(), TokenRequest{GrantType: GrantAuthorizationCode, Client: none, Code: code, RedirectURI: redirectURI, CodeVerifier: verifier})
	require.NoError(t, err)

	req.CodeChallenge = verifier
	req.CodeChallengeMethod = ""
	code = h.authorize(t, req)
	_, err = h.svc.IssueToken(context.Background(), TokenRequest{GrantType: GrantAuthorizationCode, Client: none, Code: code, RedirectURI: redirectURI, CodeVerifier: verifier})
	require.NoError(t, err)
}

func TestIssueTokenClientAuthentication(t *testing.T) {
	h := newHarness(t)
	c := h.register(t, store.AuthMethodClientSecretBasic)
	post := h.register(t, store.AuthMethodClientSecretPost)

	tests := []struct {
		name  string
		creds ClientCredentials
	}{
		{name: "wrong secret", creds: ClientCredentials{ID: c.ClientID, Secret: "nope", Method: store.AuthMethodClientSecretBasic}},
		{name: "unknown client", creds: ClientCredentials{ID: "nope", Secret: "x", Method: store.AuthMethodClientSecretBasic}},
		{name: "post for basic client", creds: ClientCredentials{ID: c.ClientID, Secret: c.ClientSecret, Method: store.AuthMethodClientSecretPost}},
		{name: "none for confidential client", creds: ClientCredentials{ID: post.ClientID, Method: store.AuthMethodNone}},
		{name: "missing id", creds: ClientCredentials{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.IssueToken(context.Background(), TokenRequest{GrantType: GrantAuthorizationCode, Client: tt.creds, Code: "x"})
			require.ErrorIs(t, err, ErrInvalidClientAuth)
		})
	}

	code := h.authorize(t, codeRequest(post))
	_, err := h.svc.IssueToken(context.Background(), TokenRequest{
		GrantType: GrantAuthorizationCode,
		Client:    ClientCredentials{ID: post.ClientID, Secret: post.ClientSecret, Method: store.AuthMethodClientSecretPost},
		Code:      code, RedirectURI: redirectURI,
	})
	require.NoError(t, err)
}

func TestIssueTokenGrantTypeChecks(t *testing.T) {
	h := newHarness(t)
	c := h.register(t, store.AuthMethodClientSecretBasic, "authorization_code")

	_, err := h.svc.IssueToken(context.Background(), TokenRequest{GrantType: "password", Client: basic(c)})
	require.ErrorIs(t, err, ErrUnsupportedGrantType)

	_, err = h.svc.IssueToken(context.Background(), TokenRequest{Client: basic(c)})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.svc.IssueToken(context.Background(), TokenRequest{GrantType: GrantClientCredentials, Client: basic(c)})
	require.ErrorIs(t, err, ErrUnauthorizedClient)
}

func TestIssueTokenWithoutRefreshGrant(t *testing.T) {
	h := newHarness(t)
	c := h.register(t, store.AuthMethodClientSecretBasic, "authorization_code")
	code := h.authorize(t, codeRequest(c))

	resp, err := h.svc.IssueToken(context.Background(), TokenRequest{GrantType: GrantAuthorizationCode, Client: basic(c), Code: code, RedirectURI: redirectURI})
	require.NoError(t, err)
	assert.Empty(t, resp.RefreshToken)
}

func TestRefreshTokenRotation(t *testing.T) {
	h := newHarness(t)
	c := h.register(t, store.AuthMethodClientSecretBasic)
	code := h.authorize(t, codeRequest(c))
	first, err := h.svc.IssueToken(context.Background(), TokenRequest{GrantType: GrantAuthorizationCode, Client: basic(c), Code: code, RedirectURI: redirectURI})
	require.NoError(t, err)

	_, err = h.svc.IssueToken(context.Background(), TokenRequest{GrantType: GrantRefreshToken, Client: basic(c), RefreshToken: first.RefreshToken, Scope: "admin"})
	require.ErrorIs(t, err, ErrInvalidScope)

	second, err := h.svc.IssueToken(context.Background(), TokenRequest{GrantType: GrantRefreshToken, Client: basic(c), RefreshToken: first.RefreshToken, Scope: "profile"})
	require.NoError(t, err)
	assert.Equal(t, "profile", second.Scope)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = h.svc.IssueToken(context.Background(), TokenRequest{GrantType: GrantRefreshToken, Client: basic(c), RefreshToken: first.RefreshToken})
	require.ErrorIs(t, err, ErrInvalidGrant)

	old, err := h.store.Tokens.GetByAccessToken(context.Background(), first.AccessToken)
	require.NoError(t, err)
	assert.True(t, old.Revoked)

	rotated, err := h.store.Tokens.GetByAccessToken(context.Background(), second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, h.alice.ID, rotated.UserID.String)
}

func TestRefreshTokenBoundToClient(t *testing.T) {
	h := newHarness(t)
	c := h.register(t, store.AuthMethodClientSecretBasic)
	other := h.register(t, store.AuthMethodClientSecretBasic)
	code := h.authorize(t, codeRequest(c))
	first, err := h.svc.IssueToken(context.Background(), TokenRequest{GrantType: GrantAuthorizationCode, Client: basic(c), Code: code, RedirectURI: redirectURI})
	require.NoError(t, err)

	_, err = h.svc.IssueToken(context.Background(), TokenRequest{GrantType: GrantRefreshToken, Client: basic(other), RefreshToken: first.RefreshToken})
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestClientCredentialsGrant(t *testing.T) {
	h := newHarness(t)
	c := h.register(t, store.AuthMethodClientSecretBasic, "client_credentials")

	resp, err := h.svc.IssueToken(context.Background(), TokenRequest{GrantType: GrantClientCredentials, Client: basic(c), Scope: "email"})
	require.NoError(t, err)
	assert.Equal(t, "email", resp.Scope)
	assert.Empty(t, resp.RefreshToken)

	tok, err := h.store.Tokens.GetByAccessToken(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.False(t, tok.UserID.Valid)
}

func TestRevoke(t *testing.T) {
	h := newHarness(t)
	c := h.register(t, store.AuthMethodClientSecretBasic)
	other := h.register(t, store.AuthMethodClientSecretBasic)
	code := h.authorize(t, codeRequest(c))
	resp, err := h.svc.IssueToken(context.Background(), TokenRequest{GrantType: GrantAuthorizationCode, Client: basic(c), Code: code, RedirectURI: redirectURI})
	require.NoError(t, err)

	require.NoError(t, h.svc.Revoke(context.Background(), RevocationRequest{Client: basic(c), Token: "does-not-exist"}))

	require.NoError(t, h.svc.Revoke(context.Background(), RevocationRequest{Client: basic(other), Token: resp.AccessToken}))
	tok, err := h.store.Tokens.GetByAccessToken(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.False(t, tok.Revoked)

	require.ErrorIs(t, h.svc.Revoke(context.Background(), RevocationRequest{Client: ClientCredentials{ID: c.ClientID, Secret: "bad", Method: store.AuthMethodClientSecretBasic}, Token: resp.AccessToken}), ErrInvalidClientAuth)

	require.NoError(t, h.svc.Revoke(context.Background(), RevocationRequest{Client: basic(c), Token: resp.RefreshToken, TokenTypeHint: HintRefreshToken}))
	tok, err = h.store.Tokens.GetByAccessToken(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.True(t, tok.Revoked)

	_, err = h.svc.IssueToken(context.Background(), TokenRequest{GrantType: GrantRefreshToken, Client: basic(c), RefreshToken: resp.RefreshToken})
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestErrorIs(t *testing.T) {
	described := ErrInvalidGrant.WithDescription("something specific")
	assert.ErrorIs(t, described, ErrInvalidGrant)
	assert.NotErrorIs(t, ErrInvalidClientAuth, ErrInvalidClient)
	assert.Equal(t, "invalid_grant: something specific", described.Error())
}

func TestResolveScope(t *testing.T) {
	got, err := resolveScope("", []string{"profile", "email"})
	require.NoError(t, err)
	assert.Equal(t, "profile email", got)

	got, err = resolveScope("email email", []string{"profile", "email"})
	require.NoError(t, err)
	assert.Equal(t, "email", got)

	_, err = resolveScope("admin", []string{"profile"})
	require.ErrorIs(t, err, ErrInvalidScope)
}
