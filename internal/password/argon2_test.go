package password

import (
	"strings"
	"testing"

	"github.com/bengobox/oauth2-provider/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHasher() *Hasher {
	return NewHasher(config.SecurityConfig{Argon2Time: 1, Argon2Memory: 1024, Argon2Threads: 1, Argon2KeyLength: 16})
}

func TestHashAndCompare(t *testing.T) {
	h := testHasher()

	hash, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"))

	require.NoError(t, h.Compare(hash, "correct horse"))
	require.ErrorIs(t, h.Compare(hash, "wrong horse"), ErrMismatch)
}

func TestHashIsSalted(t *testing.T) {
	h := testHasher()
	a, err := h.Hash("pw")
	require.NoError(t, err)
	b, err := h.Hash("pw")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCompareUsesEncodedParameters(t *testing.T) {
	hash, err := testHasher().Hash("pw")
	require.NoError(t, err)

	other := NewHasher(config.SecurityConfig{})
	require.NoError(t, other.Compare(hash, "pw"))
}

func TestCompareRejectsMalformed(t *testing.T) {
	h := testHasher()
	for _, hash := range []string{
		"",
		"plain",
		"$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$!!$a2V5",
	} {
		require.ErrorIs(t, h.Compare(hash, "pw"), ErrInvalidHash, hash)
	}
	require.ErrorIs(t, h.Compare("$argon2id$v=16$m=1024,t=1,p=1$c2FsdA$a2V5", "pw"), ErrIncompatibleVersion)
}
