package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Run("generates 64 character hex string", func(t *testing.T) {
		token, err := GenerateToken()
		require.NoError(t, err)
		assert.Len(t, token, 64)
		assert.True(t, IsValidHexKey(token))
	})

	t.Run("generates unique tokens", func(t *testing.T) {
		token1, _ := GenerateToken()
		token2, _ := GenerateToken()
		assert.NotEqual(t, token1, token2)
	})
}

func TestHashToken(t *testing.T) {
	t.Run("returns 64 character hex string", func(t *testing.T) {
		hash := HashToken("test-token")
		assert.Len(t, hash, 64)
	})

	t.Run("same input produces same hash", func(t *testing.T) {
		assert.Equal(t, HashToken("test-token"), HashToken("test-token"))
	})

	t.Run("different input produces different hash", func(t *testing.T) {
		assert.NotEqual(t, HashToken("token-1"), HashToken("token-2"))
	})
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("abc", "abc"))
	assert.False(t, ConstantTimeEqual("abc", "abd"))
	assert.False(t, ConstantTimeEqual("abc", "abcd"))
}

func TestAPIToken(t *testing.T) {
	hash, err := HashAPIToken("s3cret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2a$12$"))

	t.Run("accepts matching token", func(t *testing.T) {
		assert.True(t, CheckAPIToken("s3cret", hash))
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		assert.False(t, CheckAPIToken("wrong", hash))
	})

	t.Run("rejects malformed hash", func(t *testing.T) {
		assert.False(t, CheckAPIToken("s3cret", "not-a-hash"))
	})
}

func TestShortKey(t *testing.T) {
	key := strings.Repeat("ab", 32)
	assert.Equal(t, "abababab…abab", ShortKey(key))
	assert.Equal(t, "short", ShortKey("short"))
}
