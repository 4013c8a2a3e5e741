package token

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpaque(t *testing.T) {
	a, err := NewOpaque(0)
	require.NoError(t, err)
	b, err := NewOpaque(0)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)

	raw, err := base64.RawURLEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, DefaultBytes)
}

func TestHasher(t *testing.T) {
	plain := Hasher{}
	assert.False(t, plain.Keyed())
	assert.Equal(t, HashSHA256Hex("tok"), plain.HashHex("tok"))
	assert.Len(t, plain.HashHex("tok"), 64)

	keyed := NewHasher([]byte("0123456789abcdef0123456789abcdef"))
	assert.True(t, keyed.Keyed())
	assert.Len(t, keyed.HashHex("tok"), 64)
	assert.NotEqual(t, plain.HashHex("tok"), keyed.HashHex("tok"))
	assert.Equal(t, keyed.HashHex("tok"), keyed.HashHex("tok"))
}

func TestParseHMACKey(t *testing.T) {
	_, err := ParseHMACKey("   ", MinHMACKeyBytes)
	assert.ErrorIs(t, err, ErrHMACKeyMissing)

	_, err = ParseHMACKey("short", MinHMACKeyBytes)
	assert.ErrorIs(t, err, ErrHMACKeyTooShort)

	k, err := ParseHMACKey("  0123456789abcdef0123456789abcdef \n", MinHMACKeyBytes)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", string(k))

	k, err = ParseHMACKey("short", 0)
	require.NoError(t, err)
	assert.Equal(t, "short", string(k))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("abc", "abc"))
	assert.False(t, Equal("abc", "abd"))
	assert.False(t, Equal("abc", "ab"))
}
