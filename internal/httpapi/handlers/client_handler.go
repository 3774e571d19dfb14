package handlers

import (
	"context"
	"net/http"

	"github.com/bengobox/oauth2-provider/internal/httpapi/middleware"
	"github.com/bengobox/oauth2-provider/internal/httpapi/views"
	"github.com/bengobox/oauth2-provider/internal/services/oauth"
	"github.com/bengobox/oauth2-provider/internal/store"
	"go.uber.org/zap"
)

// ClientRegistrar registers OAuth2 clients on behalf of a user.
type ClientRegistrar interface {
	RegisterClient(ctx context.Context, ownerID string, in oauth.ClientRegistration) (*store.Client, error)
}

// ClientHandler serves client registration.
type ClientHandler struct {
	service ClientRegistrar
	views   *views.Renderer
	logger  *zap.Logger
}

// NewClientHandler constructs a handler.
func NewClientHandler(service ClientRegistrar, renderer *views.Renderer, logger *zap.Logger) *ClientHandler {
	return &ClientHandler{service: service, views: renderer, logger: logger}
}

type clientResponse struct {
	ClientID              string `json:"client_id"`
	ClientSecret          string `json:"client_secret,omitempty"`
	ClientIDIssuedAt      int64  `json:"client_id_issued_at"`
	ClientSecretExpiresAt int64  `json:"client_secret_expires_at"`
	store.ClientMetadata
}

// Create registers a client from the home page form. List fields are one
// value per line. Callers asking for JSON get the RFC 7591 style document.
func (h *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "login required")
		return
	}
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, oauth.ErrInvalidRequest.WithDescription("malformed form body"))
		return
	}

	client, err := h.service.RegisterClient(r.Context(), user.ID, oauth.ClientRegistration{
		ClientName:              r.PostForm.Get("client_name"),
		ClientURI:               r.PostForm.Get("client_uri"),
		GrantTypes:              formList(r, "grant_types", "grant_type"),
		RedirectURIs:            formList(r, "redirect_uris", "redirect_uri"),
		ResponseTypes:           formList(r, "response_types", "response_type"),
		Scope:                   r.PostForm.Get("scope"),
		TokenEndpointAuthMethod: r.PostForm.Get("token_endpoint_auth_method"),
	})
	if err != nil {
		e := oauth.AsError(err)
		if e.Status >= http.StatusInternalServerError {
			requestLogger(h.logger, r).Error("register client", zap.String("user_id", user.ID), zap.Error(err))
		}
		h.fail(w, r, e)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusCreated, clientResponse{
			ClientID:              client.ClientID,
			ClientSecret:          client.ClientSecret,
			ClientIDIssuedAt:      client.ClientIDIssuedAt,
			ClientSecretExpiresAt: client.ClientSecretExpiresAt,
			ClientMetadata:        client.Metadata,
		})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *ClientHandler) fail(w http.ResponseWriter, r *http.Request, e *oauth.Error) {
	if wantsJSON(r) {
		writeOAuthError(w, e, false)
		return
	}
	h.views.Render(w, e.Status, views.PageError, views.ErrorData{
		Title:       "Client registration failed",
		Code:        e.Code,
		Description: e.Description,
	})
}

// formList reads a newline-delimited list, accepting the singular field
// name as a fallback.
func formList(r *http.Request, name, fallback string) []string {
	if v := r.PostForm.Get(name); v != "" {
		return splitLines(v)
	}
	return splitLines(r.PostForm.Get(fallback))
}
