package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bengobox/oauth2-provider/internal/store"
)

// ResponseTypeCode is the only supported response type.
const ResponseTypeCode = "code"

// AuthorizationState tracks an authorization request through consent.
type AuthorizationState string

const (
	StateRequested       AuthorizationState = "requested"
	StateAwaitingConsent AuthorizationState = "awaiting_consent"
	StateGranted         AuthorizationState = "granted"
	StateCodeIssued      AuthorizationState = "code_issued"
	StateDenied          AuthorizationState = "denied"
	StateError           AuthorizationState = "error"
)

// ErrInvalidTransition is returned when consent is applied in the wrong state.
var ErrInvalidTransition = errors.New("authorization: invalid state transition")

// AuthorizationRequest carries the authorization endpoint parameters.
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Authorization is one pass through the authorization endpoint.
type Authorization struct {
	Request     AuthorizationRequest
	Client      *store.Client
	RedirectURI string
	Scope       string
	State       AuthorizationState
	Err         *Error
	Code        string

	svc *Service
}

// BeginAuthorization validates req. Failures that must not redirect
// (unknown client, unregistered redirect URI) are returned as errors.
// Every other failure yields an Authorization in StateError whose
// RedirectURL reports the error to the client. On success the
// authorization awaits the user's consent.
func (s *Service) BeginAuthorization(ctx context.Context, req AuthorizationRequest) (*Authorization, error) {
	if req.ClientID == "" {
		return nil, ErrInvalidClient.WithDescription("client_id is required")
	}
	client, err := s.store.Clients.Get(ctx, req.ClientID)
	if errors.Is(err, store.ErrNotFound) {
		s.metrics.Authorizations.WithLabelValues("invalid_client").Inc()
		return nil, ErrInvalidClient
	}
	if err != nil {
		return nil, s.serverError("load client", err)
	}

	redirectURI := req.RedirectURI
	if redirectURI == "" {
		def, ok := client.DefaultRedirectURI()
		if !ok {
			s.metrics.Authorizations.WithLabelValues("invalid_redirect_uri").Inc()
			return nil, ErrInvalidRedirectURI.WithDescription("redirect_uri is required")
		}
		redirectURI = def
	} else if !client.HasRedirectURI(redirectURI) {
		s.metrics.Authorizations.WithLabelValues("invalid_redirect_uri").Inc()
		return nil, ErrInvalidRedirectURI
	}

	az := &Authorization{
		Request:     req,
		Client:      client,
		RedirectURI: redirectURI,
		State:       StateRequested,
		svc:         s,
	}

	if req.ResponseType != ResponseTypeCode || !client.HasResponseType(req.ResponseType) {
		return az.fail(ErrUnsupportedResponseType), nil
	}
	if !client.HasGrantType(string(GrantAuthorizationCode)) {
		return az.fail(ErrUnauthorizedClient), nil
	}

	scope, err := resolveScope(req.Scope, client.Scopes())
	if err != nil {
		return az.fail(AsError(err)), nil
	}
	az.Scope = scope

	if req.CodeChallenge != "" {
		if az.Request.CodeChallengeMethod == "" {
			az.Request.CodeChallengeMethod = PKCEMethodPlain
		}
		if !validChallenge(req.CodeChallenge, az.Request.CodeChallengeMethod) {
			return az.fail(ErrInvalidRequest.WithDescription("invalid code_challenge or code_challenge_method")), nil
		}
	} else if client.IsPublic() {
		return az.fail(ErrInvalidRequest.WithDescription("code_challenge is required for public clients")), nil
	}

	az.State = StateAwaitingConsent
	return az, nil
}

// Scopes lists the scope values being requested.
func (a *Authorization) Scopes() []string {
	return strings.Fields(a.Scope)
}

// Approve records the user's consent and issues an authorization code.
func (a *Authorization) Approve(ctx context.Context, userID string) error {
	if a.State != StateAwaitingConsent {
		return fmt.Errorf("%w: approve from %s", ErrInvalidTransition, a.State)
	}
	a.State = StateGranted

	s := a.svc
	now := s.now()
	var err error
	for range maxCollisionRetries {
		var code string
		if code, err = randomString(codeLength); err != nil {
			break
		}
		err = s.store.Codes.Create(ctx, &store.AuthorizationCode{
			Code:                code,
			ClientID:            a.Client.ClientID,
			UserID:              userID,
			Scope:               a.Scope,
			RedirectURI:         a.Request.RedirectURI,
			ResponseType:        a.Request.ResponseType,
			CodeChallenge:       a.Request.CodeChallenge,
			CodeChallengeMethod: a.Request.CodeChallengeMethod,
			IssuedAt:            now.Unix(),
			ExpiresAt:           now.Add(s.cfg.AuthorizationCodeTTL).Unix(),
		})
		if err == nil {
			a.Code = code
			a.State = StateCodeIssued
			s.metrics.Authorizations.WithLabelValues("code_issued").Inc()
			return nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			break
		}
	}
	a.fail(AsError(s.serverError("create authorization code", err)))
	return nil
}

// Deny records the user's refusal.
func (a *Authorization) Deny() error {
	if a.State != StateAwaitingConsent {
		return fmt.Errorf("%w: deny from %s", ErrInvalidTransition, a.State)
	}
	a.State = StateDenied
	a.Err = ErrAccessDenied
	a.svc.metrics.Authorizations.WithLabelValues("denied").Inc()
	return nil
}

// RedirectURL is the response location for terminal states. The request's
// state parameter is echoed unmodified on every path.
func (a *Authorization) RedirectURL() (string, error) {
	u, err := url.Parse(a.RedirectURI)
	if err != nil {
		return "", fmt.Errorf("parse redirect uri: %w", err)
	}
	q := u.Query()
	switch a.State {
	case StateCodeIssued:
		q.Set("code", a.Code)
	case StateDenied, StateError:
		q.Set("error", a.Err.Code)
		if a.Err.Description != "" {
			q.Set("error_description", a.Err.Description)
		}
	default:
		return "", fmt.Errorf("%w: no redirect from %s", ErrInvalidTransition, a.State)
	}
	if a.Request.State != "" {
		q.Set("state", a.Request.State)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *Authorization) fail(e *Error) *Authorization {
	a.State = StateError
	a.Err = e
	a.svc.metrics.Authorizations.WithLabelValues(e.Code).Inc()
	return a
}

// AsError unwraps err to a protocol error, defaulting to server_error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrServerError
}
