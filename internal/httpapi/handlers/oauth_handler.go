package handlers

import (
	"context"
	"net/http"

	"github.com/bengobox/oauth2-provider/internal/httpapi/middleware"
	"github.com/bengobox/oauth2-provider/internal/httpapi/views"
	"github.com/bengobox/oauth2-provider/internal/services/oauth"
	"go.uber.org/zap"
)

// OAuthService describes the authorization server operations used over HTTP.
type OAuthService interface {
	BeginAuthorization(ctx context.Context, req oauth.AuthorizationRequest) (*oauth.Authorization, error)
	IssueToken(ctx context.Context, req oauth.TokenRequest) (*oauth.TokenResponse, error)
	Revoke(ctx context.Context, req oauth.RevocationRequest) error
}

// OAuthHandler serves the authorization, token and revocation endpoints.
type OAuthHandler struct {
	service  OAuthService
	sessions *middleware.Sessions
	views    *views.Renderer
	logger   *zap.Logger
}

// NewOAuthHandler constructs a handler.
func NewOAuthHandler(service OAuthService, sessions *middleware.Sessions, renderer *views.Renderer, logger *zap.Logger) *OAuthHandler {
	return &OAuthHandler{service: service, sessions: sessions, views: renderer, logger: logger}
}

// Authorize drives the authorization endpoint. GET shows the consent page;
// POST applies the user's decision. Parameters always come from the query
// string so the consent form can post back to the same URL.
func (h *OAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	az, err := h.service.BeginAuthorization(r.Context(), oauth.AuthorizationRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		ResponseType:        q.Get("response_type"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	})
	if err != nil {
		// The redirect target is unverified here, so the error is shown
		// to the user instead.
		h.renderProtocolError(w, err)
		return
	}
	if az.State == oauth.StateError {
		h.redirect(w, r, az)
		return
	}

	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.sessions.RedirectToLogin(w, r)
		return
	}

	if r.Method == http.MethodGet {
		h.views.Render(w, http.StatusOK, views.PageConsent, views.ConsentData{
			User:       user,
			ClientName: az.Client.Metadata.ClientName,
			ClientURI:  az.Client.Metadata.ClientURI,
			Scopes:     az.Scopes(),
			Action:     r.URL.RequestURI(),
		})
		return
	}

	if err := r.ParseForm(); err != nil {
		h.renderProtocolError(w, oauth.ErrInvalidRequest.WithDescription("malformed form body"))
		return
	}
	if isTruthy(r.PostForm.Get("confirm")) {
		err = az.Approve(r.Context(), user.ID)
	} else {
		err = az.Deny()
	}
	if err != nil {
		requestLogger(h.logger, r).Error("apply consent", zap.Error(err))
		h.renderProtocolError(w, oauth.ErrServerError)
		return
	}
	h.redirect(w, r, az)
}

// Token serves the token endpoint.
func (h *OAuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	_, _, basic := r.BasicAuth()
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oauth.ErrInvalidRequest.WithDescription("malformed form body"), basic)
		return
	}
	creds, err := oauth.ClientCredentialsFromRequest(r)
	if err != nil {
		writeOAuthError(w, oauth.AsError(err), basic)
		return
	}

	resp, err := h.service.IssueToken(r.Context(), oauth.TokenRequest{
		GrantType:    oauth.GrantType(r.PostForm.Get("grant_type")),
		Client:       creds,
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		Scope:        r.PostForm.Get("scope"),
	})
	if err != nil {
		writeOAuthError(w, oauth.AsError(err), basic)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Revoke serves the RFC 7009 revocation endpoint. Unknown tokens succeed.
func (h *OAuthHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	_, _, basic := r.BasicAuth()
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oauth.ErrInvalidRequest.WithDescription("malformed form body"), basic)
		return
	}
	creds, err := oauth.ClientCredentialsFromRequest(r)
	if err != nil {
		writeOAuthError(w, oauth.AsError(err), basic)
		return
	}
	err = h.service.Revoke(r.Context(), oauth.RevocationRequest{
		Client:        creds,
		Token:         r.PostForm.Get("token"),
		TokenTypeHint: r.PostForm.Get("token_type_hint"),
	})
	if err != nil {
		writeOAuthError(w, oauth.AsError(err), basic)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (h *OAuthHandler) redirect(w http.ResponseWriter, r *http.Request, az *oauth.Authorization) {
	target, err := az.RedirectURL()
	if err != nil {
		requestLogger(h.logger, r).Error("build authorization redirect", zap.Error(err))
		h.renderProtocolError(w, oauth.ErrServerError)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *OAuthHandler) renderProtocolError(w http.ResponseWriter, err error) {
	e := oauth.AsError(err)
	h.views.Render(w, e.Status, views.PageError, views.ErrorData{
		Title:       "Authorization failed",
		Code:        e.Code,
		Description: e.Description,
	})
}
