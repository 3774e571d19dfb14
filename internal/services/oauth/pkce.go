package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"regexp"
)

// PKCE challenge methods.
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// verifierPattern matches RFC 7636 code verifiers and challenges.
var verifierPattern = regexp.MustCompile(`^[A-Za-z0-9\-._~]{43,128}$`)

func validChallenge(challenge, method string) bool {
	switch method {
	case PKCEMethodS256, PKCEMethodPlain:
	default:
		return false
	}
	return verifierPattern.MatchString(challenge)
}

func verifyPKCE(challenge, method, verifier string) bool {
	if !verifierPattern.MatchString(verifier) {
		return false
	}
	var computed string
	switch method {
	case PKCEMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(sum[:])
	case PKCEMethodPlain:
		computed = verifier
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
