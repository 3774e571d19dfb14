package oauth

import (
	"context"
	"errors"

	"github.com/bengobox/oauth2-provider/internal/audit"
	"github.com/bengobox/oauth2-provider/internal/store"
)

// Token type hints accepted by the revocation endpoint.
const (
	HintAccessToken  = "access_token"
	HintRefreshToken = "refresh_token"
)

// RevocationRequest carries the revocation endpoint parameters.
type RevocationRequest struct {
	Client        ClientCredentials
	Token         string
	TokenTypeHint string
}

// Revoke invalidates the token if it exists and belongs to the
// authenticated client. Unknown tokens and tokens of other clients are
// ignored so the endpoint cannot be used to probe for valid values.
func (s *Service) Revoke(ctx context.Context, req RevocationRequest) error {
	client, err := s.AuthenticateClient(ctx, req.Client)
	if err != nil {
		return err
	}
	if req.Token == "" {
		return ErrInvalidRequest.WithDescription("token is required")
	}

	tok, err := s.findForRevocation(ctx, req.Token, req.TokenTypeHint)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return s.serverError("load token for revocation", err)
	}
	if tok.ClientID != client.ClientID || tok.Revoked {
		return nil
	}

	if err := s.store.Tokens.Revoke(ctx, tok.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return s.serverError("revoke token", err)
	}
	s.metrics.Revocations.Inc()
	s.auditor.Record(ctx, audit.Entry{
		UserID:     tok.UserID.String,
		Action:     audit.ActionTokenRevoked,
		Resource:   "oauth2_token",
		ResourceID: tok.ID,
		Context:    map[string]any{"client_id": client.ClientID},
	})
	return nil
}

// findForRevocation looks the value up as the hinted type first, then the other.
func (s *Service) findForRevocation(ctx context.Context, value, hint string) (*store.Token, error) {
	lookups := []func(context.Context, string) (*store.Token, error){
		s.store.Tokens.GetByAccessToken,
		s.store.Tokens.GetByRefreshToken,
	}
	if hint == HintRefreshToken {
		lookups[0], lookups[1] = lookups[1], lookups[0]
	}
	for _, lookup := range lookups {
		tok, err := lookup(ctx, value)
		if err == nil || !errors.Is(err, store.ErrNotFound) {
			return tok, err
		}
	}
	return nil, store.ErrNotFound
}
