package oauth

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strings"

	"github.com/bengobox/oauth2-provider/internal/audit"
	"github.com/bengobox/oauth2-provider/internal/store"
)

// ClientRegistration is the metadata submitted when registering a client.
type ClientRegistration struct {
	ClientName              string
	ClientURI               string
	GrantTypes              []string
	RedirectURIs            []string
	ResponseTypes           []string
	Scope                   string
	TokenEndpointAuthMethod string
}

// RegisterClient validates the registration and stores a new client owned
// by ownerID. Confidential clients receive a generated secret; clients using
// auth method "none" get an empty one.
func (s *Service) RegisterClient(ctx context.Context, ownerID string, in ClientRegistration) (*store.Client, error) {
	meta, err := s.normaliseRegistration(in)
	if err != nil {
		return nil, err
	}

	for range maxCollisionRetries {
		client := &store.Client{
			ClientIDIssuedAt: s.now().Unix(),
			UserID:           ownerID,
			Metadata:         meta,
		}
		if client.ClientID, err = randomString(clientIDLength); err != nil {
			return nil, s.serverError("generate client id", err)
		}
		if meta.TokenEndpointAuthMethod != store.AuthMethodNone {
			if client.ClientSecret, err = randomString(clientSecretLength); err != nil {
				return nil, s.serverError("generate client secret", err)
			}
		}

		err = s.store.Clients.Create(ctx, client)
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, s.serverError("create client", err)
		}

		s.auditor.Record(ctx, audit.Entry{
			UserID:     ownerID,
			Action:     audit.ActionClientRegistered,
			Resource:   "oauth2_client",
			ResourceID: client.ClientID,
			Context:    map[string]any{"client_name": meta.ClientName, "auth_method": meta.TokenEndpointAuthMethod},
		})
		return client, nil
	}
	return nil, s.serverError("create client", err)
}

func (s *Service) normaliseRegistration(in ClientRegistration) (store.ClientMetadata, error) {
	meta := store.ClientMetadata{
		ClientName:              strings.TrimSpace(in.ClientName),
		ClientURI:               strings.TrimSpace(in.ClientURI),
		GrantTypes:              compact(in.GrantTypes),
		RedirectURIs:            compact(in.RedirectURIs),
		ResponseTypes:           compact(in.ResponseTypes),
		Scope:                   strings.Join(strings.Fields(in.Scope), " "),
		TokenEndpointAuthMethod: strings.TrimSpace(in.TokenEndpointAuthMethod),
	}

	if meta.ClientName == "" {
		return meta, ErrInvalidClientMetadata.WithDescription("client_name is required")
	}
	switch meta.TokenEndpointAuthMethod {
	case "":
		meta.TokenEndpointAuthMethod = store.AuthMethodClientSecretBasic
	case store.AuthMethodClientSecretBasic, store.AuthMethodClientSecretPost, store.AuthMethodNone:
	default:
		return meta, ErrInvalidClientMetadata.WithDescription("unsupported token_endpoint_auth_method")
	}

	if len(meta.GrantTypes) == 0 {
		meta.GrantTypes = []string{string(GrantAuthorizationCode)}
	}
	for _, gt := range meta.GrantTypes {
		if !GrantType(gt).Valid() {
			return meta, ErrInvalidClientMetadata.WithDescription("unsupported grant type " + gt)
		}
	}
	if meta.TokenEndpointAuthMethod == store.AuthMethodNone && slices.Contains(meta.GrantTypes, string(GrantClientCredentials)) {
		return meta, ErrInvalidClientMetadata.WithDescription("client_credentials requires a confidential client")
	}

	if len(meta.ResponseTypes) == 0 {
		meta.ResponseTypes = []string{ResponseTypeCode}
	}
	for _, rt := range meta.ResponseTypes {
		if rt != ResponseTypeCode {
			return meta, ErrInvalidClientMetadata.WithDescription("unsupported response type " + rt)
		}
	}

	for _, raw := range meta.RedirectURIs {
		if !validRedirectURI(raw) {
			return meta, ErrInvalidClientMetadata.WithDescription("invalid redirect uri " + raw)
		}
	}
	if slices.Contains(meta.GrantTypes, string(GrantAuthorizationCode)) && len(meta.RedirectURIs) == 0 {
		return meta, ErrInvalidClientMetadata.WithDescription("authorization_code requires at least one redirect uri")
	}

	if meta.Scope == "" {
		meta.Scope = strings.Join(s.cfg.DefaultScopes, " ")
	}
	return meta, nil
}

// validRedirectURI accepts absolute URIs without a fragment.
func validRedirectURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != "" && u.Fragment == ""
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
