package oauth

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/bengobox/oauth2-provider/internal/audit"
	"github.com/bengobox/oauth2-provider/internal/store"
	"github.com/google/uuid"
)

// GrantType names a token endpoint grant.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantClientCredentials GrantType = "client_credentials"
)

// Valid reports whether g is a supported grant.
func (g GrantType) Valid() bool {
	switch g {
	case GrantAuthorizationCode, GrantRefreshToken, GrantClientCredentials:
		return true
	}
	return false
}

// TokenTypeBearer is the only issued token type.
const TokenTypeBearer = "Bearer"

// TokenRequest carries the token endpoint parameters. Which fields are
// read depends on GrantType.
type TokenRequest struct {
	GrantType    GrantType
	Client       ClientCredentials
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
}

// TokenResponse is the successful token endpoint body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// IssueToken authenticates the client and processes the grant.
// Refresh tokens rotate: each exchange revokes the presented token's row
// and issues a new access and refresh token pair.
func (s *Service) IssueToken(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	resp, err := s.issueToken(ctx, req)
	if err != nil {
		s.metrics.TokenErrors.WithLabelValues(AsError(err).Code).Inc()
		return nil, err
	}
	s.metrics.TokensIssued.WithLabelValues(string(req.GrantType)).Inc()
	return resp, nil
}

func (s *Service) issueToken(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.GrantType == "" {
		return nil, ErrInvalidRequest.WithDescription("grant_type is required")
	}
	if !req.GrantType.Valid() {
		return nil, ErrUnsupportedGrantType
	}

	client, err := s.AuthenticateClient(ctx, req.Client)
	if err != nil {
		return nil, err
	}
	if !client.HasGrantType(string(req.GrantType)) {
		return nil, ErrUnauthorizedClient
	}

	var tok *store.Token
	switch req.GrantType {
	case GrantAuthorizationCode:
		tok, err = s.exchangeCode(ctx, client, req)
	case GrantRefreshToken:
		tok, err = s.exchangeRefreshToken(ctx, client, req)
	case GrantClientCredentials:
		tok, err = s.exchangeClientCredentials(ctx, client, req)
	default:
		return nil, ErrUnsupportedGrantType
	}
	if err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, audit.Entry{
		UserID:     tok.UserID.String,
		Action:     audit.ActionTokenIssued,
		Resource:   "oauth2_token",
		ResourceID: tok.ID,
		Context:    map[string]any{"client_id": client.ClientID, "grant_type": string(req.GrantType), "scope": tok.Scope},
	})

	return &TokenResponse{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    tok.ExpiresIn,
		RefreshToken: tok.RefreshToken.String,
		Scope:        tok.Scope,
	}, nil
}

func (s *Service) exchangeCode(ctx context.Context, client *store.Client, req TokenRequest) (*store.Token, error) {
	if req.Code == "" {
		return nil, ErrInvalidRequest.WithDescription("code is required")
	}
	now := s.now()

	code, err := s.store.Codes.Get(ctx, req.Code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidGrant
	}
	if err != nil {
		return nil, s.serverError("load authorization code", err)
	}
	if code.ClientID != client.ClientID || code.Consumed || code.Expired(now) {
		return nil, ErrInvalidGrant
	}

	if code.RedirectURI != "" {
		if req.RedirectURI != code.RedirectURI {
			return nil, ErrInvalidGrant.WithDescription("redirect_uri does not match the authorization request")
		}
	} else if req.RedirectURI != "" && !client.HasRedirectURI(req.RedirectURI) {
		return nil, ErrInvalidGrant.WithDescription("redirect_uri does not match the authorization request")
	}

	if code.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, ErrInvalidGrant.WithDescription("code_verifier is required")
		}
		if !verifyPKCE(code.CodeChallenge, code.CodeChallengeMethod, req.CodeVerifier) {
			return nil, ErrInvalidGrant.WithDescription("code_verifier does not match")
		}
	}

	withRefresh := client.HasGrantType(string(GrantRefreshToken))
	for range maxCollisionRetries {
		tok, err := s.newToken(client.ClientID, code.UserID, code.Scope, withRefresh)
		if err != nil {
			return nil, s.serverError("generate token", err)
		}
		err = s.store.Tokens.Redeem(ctx, code.Code, now, tok)
		switch {
		case err == nil:
			return tok, nil
		case errors.Is(err, store.ErrConflict):
			return nil, ErrInvalidGrant
		case errors.Is(err, store.ErrDuplicate):
			continue
		default:
			return nil, s.serverError("redeem authorization code", err)
		}
	}
	return nil, s.serverError("redeem authorization code", store.ErrDuplicate)
}

func (s *Service) exchangeRefreshToken(ctx context.Context, client *store.Client, req TokenRequest) (*store.Token, error) {
	if req.RefreshToken == "" {
		return nil, ErrInvalidRequest.WithDescription("refresh_token is required")
	}
	old, err := s.store.Tokens.GetByRefreshToken(ctx, req.RefreshToken)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidGrant
	}
	if err != nil {
		return nil, s.serverError("load refresh token", err)
	}
	if old.ClientID != client.ClientID || !old.RefreshValid(s.now()) {
		return nil, ErrInvalidGrant
	}

	scope, err := resolveScope(req.Scope, strings.Fields(old.Scope))
	if err != nil {
		return nil, err
	}

	for range maxCollisionRetries {
		tok, err := s.newToken(client.ClientID, old.UserID.String, scope, true)
		if err != nil {
			return nil, s.serverError("generate token", err)
		}
		err = s.store.Tokens.Rotate(ctx, old.ID, tok)
		switch {
		case err == nil:
			return tok, nil
		case errors.Is(err, store.ErrConflict):
			return nil, ErrInvalidGrant
		case errors.Is(err, store.ErrDuplicate):
			continue
		default:
			return nil, s.serverError("rotate refresh token", err)
		}
	}
	return nil, s.serverError("rotate refresh token", store.ErrDuplicate)
}

func (s *Service) exchangeClientCredentials(ctx context.Context, client *store.Client, req TokenRequest) (*store.Token, error) {
	scope, err := resolveScope(req.Scope, client.Scopes())
	if err != nil {
		return nil, err
	}
	for range maxCollisionRetries {
		tok, err := s.newToken(client.ClientID, "", scope, false)
		if err != nil {
			return nil, s.serverError("generate token", err)
		}
		err = s.store.Tokens.Create(ctx, tok)
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, s.serverError("create token", err)
		}
	}
	return nil, s.serverError("create token", store.ErrDuplicate)
}

func (s *Service) newToken(clientID, userID, scope string, withRefresh bool) (*store.Token, error) {
	access, err := randomToken()
	if err != nil {
		return nil, err
	}
	tok := &store.Token{
		ID:          uuid.NewString(),
		ClientID:    clientID,
		UserID:      sql.NullString{String: userID, Valid: userID != ""},
		TokenType:   TokenTypeBearer,
		AccessToken: access,
		Scope:       scope,
		IssuedAt:    s.now().Unix(),
		ExpiresIn:   int64(s.cfg.AccessTokenTTL.Seconds()),
	}
	if withRefresh {
		refresh, err := randomToken()
		if err != nil {
			return nil, err
		}
		tok.RefreshToken = sql.NullString{String: refresh, Valid: true}
		tok.RefreshTokenExpiresIn = int64(s.cfg.RefreshTokenTTL.Seconds())
	}
	return tok, nil
}
