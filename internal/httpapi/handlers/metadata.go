package handlers

import (
	"net/http"
	"strings"

	"github.com/bengobox/oauth2-provider/internal/services/oauth"
	"github.com/bengobox/oauth2-provider/internal/store"
)

type serverMetadata struct {
	Issuer                            string            `json:"issuer"`
	AuthorizationEndpoint             string            `json:"authorization_endpoint"`
	TokenEndpoint                     string            `json:"token_endpoint"`
	RevocationEndpoint                string            `json:"revocation_endpoint"`
	RegistrationEndpoint              string            `json:"registration_endpoint"`
	ScopesSupported                   []string          `json:"scopes_supported"`
	ResponseTypesSupported            []string          `json:"response_types_supported"`
	GrantTypesSupported               []oauth.GrantType `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string          `json:"token_endpoint_auth_methods_supported"`
	RevocationEndpointAuthMethods     []string          `json:"revocation_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string          `json:"code_challenge_methods_supported"`
}

// MetadataHandler serves the RFC 8414 authorization server metadata.
type MetadataHandler struct {
	document serverMetadata
}

// NewMetadataHandler builds the discovery document for issuer.
func NewMetadataHandler(issuer string, scopes []string) *MetadataHandler {
	issuer = strings.TrimRight(issuer, "/")
	authMethods := []string{store.AuthMethodClientSecretBasic, store.AuthMethodClientSecretPost, store.AuthMethodNone}
	return &MetadataHandler{document: serverMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + "/oauth/authorize",
		TokenEndpoint:                     issuer + "/oauth/token",
		RevocationEndpoint:                issuer + "/oauth/revoke",
		RegistrationEndpoint:              issuer + "/clients",
		ScopesSupported:                   scopes,
		ResponseTypesSupported:            []string{oauth.ResponseTypeCode},
		GrantTypesSupported:               []oauth.GrantType{oauth.GrantAuthorizationCode, oauth.GrantRefreshToken, oauth.GrantClientCredentials},
		TokenEndpointAuthMethodsSupported: authMethods,
		RevocationEndpointAuthMethods:     authMethods,
		CodeChallengeMethodsSupported:     []string{oauth.PKCEMethodS256, oauth.PKCEMethodPlain},
	}}
}

// Serve writes the metadata document.
func (h *MetadataHandler) Serve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, h.document)
}
