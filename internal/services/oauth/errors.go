package oauth

import (
	"fmt"
	"net/http"
)

// Error is a protocol error rendered as {error, error_description}.
type Error struct {
	Code        string
	Description string
	Status      int
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches on code and status so described copies still match their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Status == t.Status
}

// WithDescription returns a copy of e carrying desc.
func (e *Error) WithDescription(desc string) *Error {
	c := *e
	c.Description = desc
	return &c
}

func newError(code string, status int, desc string) *Error {
	return &Error{Code: code, Description: desc, Status: status}
}

var (
	ErrInvalidClient           = newError("invalid_client", http.StatusBadRequest, "unknown client")
	ErrInvalidRedirectURI      = newError("invalid_redirect_uri", http.StatusBadRequest, "redirect_uri is not registered for this client")
	ErrUnsupportedResponseType = newError("unsupported_response_type", http.StatusBadRequest, "response_type is not allowed for this client")
	ErrAccessDenied            = newError("access_denied", http.StatusForbidden, "the resource owner denied the request")
	ErrInvalidGrant            = newError("invalid_grant", http.StatusBadRequest, "grant is invalid, expired or already used")
	ErrInvalidClientAuth       = newError("invalid_client", http.StatusUnauthorized, "client authentication failed")
	ErrUnauthorized            = newError("invalid_token", http.StatusUnauthorized, "the access token is invalid")
	ErrInsufficientScope       = newError("insufficient_scope", http.StatusForbidden, "the access token lacks the required scope")
	ErrInvalidRequest          = newError("invalid_request", http.StatusBadRequest, "")
	ErrInvalidScope            = newError("invalid_scope", http.StatusBadRequest, "requested scope exceeds the client scope")
	ErrUnsupportedGrantType    = newError("unsupported_grant_type", http.StatusBadRequest, "")
	ErrUnauthorizedClient      = newError("unauthorized_client", http.StatusBadRequest, "client is not registered for this grant type")
	ErrInvalidClientMetadata   = newError("invalid_client_metadata", http.StatusBadRequest, "")
	ErrServerError             = newError("server_error", http.StatusInternalServerError, "internal server error")
)
