package state

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Flows distinguish what a signed state token may be used for.
const (
	// FlowContinue resumes an interrupted request after login.
	FlowContinue = "continue"
	// FlowGoogle protects the Google sign-in round trip.
	FlowGoogle = "google"
)

var (
	// ErrInvalid indicates the token failed signature, expiry or flow checks.
	ErrInvalid = errors.New("state token invalid")
	// ErrUnsafeReturnTo indicates a return path that could leave this host.
	ErrUnsafeReturnTo = errors.New("return path must be a local path")
)

// Payload captures state metadata.
type Payload struct {
	Flow     string `json:"flow"`
	ReturnTo string `json:"return_to"`
	Nonce    string `json:"nonce"`
}

type claims struct {
	Payload
	jwt.RegisteredClaims
}

// Encode signs the payload using HS256. A nonce is generated when absent.
func Encode(secret string, payload Payload, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("state secret missing")
	}
	if payload.ReturnTo != "" && !SafeReturnTo(payload.ReturnTo) {
		return "", ErrUnsafeReturnTo
	}
	if payload.Nonce == "" {
		nonce, err := randomNonce()
		if err != nil {
			return "", err
		}
		payload.Nonce = nonce
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Payload: payload,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString([]byte(secret))
}

// Decode verifies the token and extracts the payload, requiring flow to match.
func Decode(secret, flow, token string) (*Payload, error) {
	if secret == "" {
		return nil, fmt.Errorf("state secret missing")
	}
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !parsed.Valid || c.Flow != flow {
		return nil, ErrInvalid
	}
	if c.ReturnTo != "" && !SafeReturnTo(c.ReturnTo) {
		return nil, ErrUnsafeReturnTo
	}
	return &c.Payload, nil
}

// SafeReturnTo reports whether p is a path on this host. Scheme-relative
// ("//evil") and backslash forms are rejected.
func SafeReturnTo(p string) bool {
	if !strings.HasPrefix(p, "/") {
		return false
	}
	if strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return false
	}
	return !strings.ContainsAny(p, "\r\n")
}

func randomNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
