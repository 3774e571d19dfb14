package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"

	"github.com/bengobox/oauth2-provider/internal/store"
)

// ClientCredentials is what a request presented to authenticate a client.
type ClientCredentials struct {
	ID     string
	Secret string
	// Method is the auth method implied by how the credentials were sent.
	Method string
}

// ClientCredentialsFromRequest extracts credentials from HTTP Basic auth or
// the form body. r.ParseForm must have been called. Presenting both is an
// invalid_request.
func ClientCredentialsFromRequest(r *http.Request) (ClientCredentials, error) {
	if id, secret, ok := r.BasicAuth(); ok {
		if r.PostForm.Get("client_secret") != "" {
			return ClientCredentials{}, ErrInvalidRequest.WithDescription("multiple client authentication methods")
		}
		// RFC 6749 section 2.3.1 form-encodes credentials before Basic encoding.
		if v, err := url.QueryUnescape(id); err == nil {
			id = v
		}
		if v, err := url.QueryUnescape(secret); err == nil {
			secret = v
		}
		return ClientCredentials{ID: id, Secret: secret, Method: store.AuthMethodClientSecretBasic}, nil
	}

	id := r.PostForm.Get("client_id")
	if secret := r.PostForm.Get("client_secret"); secret != "" {
		return ClientCredentials{ID: id, Secret: secret, Method: store.AuthMethodClientSecretPost}, nil
	}
	return ClientCredentials{ID: id, Method: store.AuthMethodNone}, nil
}

// AuthenticateClient checks creds against the registered client. The
// presented method must be the one the client registered.
func (s *Service) AuthenticateClient(ctx context.Context, creds ClientCredentials) (*store.Client, error) {
	if creds.ID == "" {
		return nil, ErrInvalidClientAuth
	}
	client, err := s.store.Clients.Get(ctx, creds.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidClientAuth
	}
	if err != nil {
		return nil, s.serverError("load client", err)
	}

	if client.AuthMethod() != creds.Method {
		return nil, ErrInvalidClientAuth
	}
	if creds.Method == store.AuthMethodNone {
		return client, nil
	}
	if client.ClientSecretExpiresAt != 0 && s.now().Unix() >= client.ClientSecretExpiresAt {
		return nil, ErrInvalidClientAuth
	}
	if subtle.ConstantTimeCompare([]byte(client.ClientSecret), []byte(creds.Secret)) != 1 {
		return nil, ErrInvalidClientAuth
	}
	return client, nil
}
