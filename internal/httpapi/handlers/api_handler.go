package handlers

import (
	"net/http"

	"github.com/bengobox/oauth2-provider/internal/httpapi/middleware"
)

// APIHandler serves the bearer-protected resource API.
type APIHandler struct{}

// NewAPIHandler constructs a handler.
func NewAPIHandler() *APIHandler {
	return &APIHandler{}
}

// Me returns the user the access token was issued for.
func (h *APIHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok || principal.User == nil {
		writeError(w, http.StatusForbidden, "no_user", "token is not bound to a user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       principal.User.ID,
		"username": principal.User.Username,
	})
}

// Data is a sample protected resource open to any valid token.
func (h *APIHandler) Data(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing principal")
		return
	}
	body := map[string]any{
		"message":   "This is protected data",
		"client_id": principal.ClientID,
	}
	if principal.User != nil {
		body["user_id"] = principal.User.ID
		body["username"] = principal.User.Username
	}
	writeJSON(w, http.StatusOK, body)
}
