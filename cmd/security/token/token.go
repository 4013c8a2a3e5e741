package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// MinHMACKeyBytes is the shortest key accepted when HMAC is required.
const MinHMACKeyBytes = 32

// DefaultBytes is the entropy of tokens produced by NewOpaque(0).
const DefaultBytes = 32

// NewOpaque returns nBytes of randomness as unpadded base64url.
func NewOpaque(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = DefaultBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// ParseHMACKey trims raw and enforces minBytes when minBytes > 0.
func ParseHMACKey(raw string, minBytes int) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	if minBytes > 0 && len(raw) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return []byte(raw), nil
}

// Hasher maps plaintext tokens to storage digests.
// The zero value hashes with SHA-256.
type Hasher struct {
	key []byte
}

func NewHasher(key []byte) Hasher {
	return Hasher{key: key}
}

// Keyed reports whether digests are HMAC-based.
func (h Hasher) Keyed() bool { return len(h.key) > 0 }

func (h Hasher) HashHex(tok string) string {
	if !h.Keyed() {
		return HashSHA256Hex(tok)
	}
	return HashHMACSHA256Hex(tok, h.key)
}

// Equal compares two digests in constant time.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
