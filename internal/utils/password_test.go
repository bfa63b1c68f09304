package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	t.Run("produces bcrypt hash", func(t *testing.T) {
		hash, err := HashPassword("Abcd123!")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(hash, "$2"))
		assert.NotContains(t, hash, "Abcd123!")
	})

	t.Run("same password produces different hashes", func(t *testing.T) {
		h1, err := HashPassword("Abcd123!")
		require.NoError(t, err)
		h2, err := HashPassword("Abcd123!")
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})

	t.Run("rejects passwords over 72 bytes", func(t *testing.T) {
		_, err := HashPassword("Aa1!" + strings.Repeat("x", 80))
		assert.ErrorIs(t, err, ErrPasswordTooLong)
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := HashPassword("")
		assert.ErrorIs(t, err, ErrEmptyPassword)
	})
}

func TestCheckPassword(t *testing.T) {
	hash, err := HashPassword("Abcd123!")
	require.NoError(t, err)

	assert.True(t, CheckPassword("Abcd123!", hash))
	assert.False(t, CheckPassword("abcd123!", hash))
	assert.False(t, CheckPassword("", hash))
	assert.False(t, CheckPassword("Abcd123!", "not-a-hash"))
	assert.False(t, CheckPassword("Abcd123!", ""))
}

// CheckPassword never compares plaintext: it re-derives the digest and leaves
// the byte comparison to bcrypt's subtle.ConstantTimeCompare. A mismatch in
// the first or the last byte of a same-length password is rejected the same way.
func TestCheckPasswordTimingSafeComparison(t *testing.T) {
	const password = "Abcd123!"
	hash, err := HashPassword(password)
	require.NoError(t, err)

	for _, guess := range []string{"Xbcd123!", "Abcd123?", "Abcd123!"[:7] + "x"} {
		require.Len(t, guess, len(password))
		assert.False(t, CheckPassword(guess, hash), guess)
	}
	assert.NotContains(t, hash, password)
	assert.True(t, CheckPassword(password, hash))
}
