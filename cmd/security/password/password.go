package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2Version = argon2.Version

var b64 = base64.RawStdEncoding

// Hash validates password against the policy and returns its encoded Argon2id hash
// under a freshly generated salt.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, c.Params.Iterations, c.Params.MemoryKiB, c.Params.Parallelism, c.Params.KeyLength)

	return encode(c.Params, salt, key), nil
}

// Verify reports whether password matches encodedHash.
// A malformed or out-of-bounds hash yields (false, ErrInvalidHash).
func (c Config) Verify(encodedHash, password string) (bool, error) {
	params, salt, expected, err := decode(encodedHash)
	if err != nil {
		return false, err
	}
	if !withinReasonableBounds(params, c.Params) {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		params.Iterations,
		params.MemoryKiB,
		params.Parallelism,
		params.KeyLength,
	)

	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

// NeedsRehash reports whether encodedHash was produced with parameters
// other than the current ones.
func (c Config) NeedsRehash(encodedHash string) bool {
	params, _, _, err := decode(encodedHash)
	if err != nil {
		return true
	}
	return params != c.Params
}

func encode(p Argon2idParams, salt, key []byte) string {
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		p.MemoryKiB,
		p.Iterations,
		p.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	)
}

// Older, cheaper hashes still verify; anything more than twice the
// configured cost is refused.
func withinReasonableBounds(got, limits Argon2idParams) bool {
	switch {
	case got.MemoryKiB > limits.MemoryKiB*2:
		return false
	case got.Iterations > limits.Iterations*2:
		return false
	case uint32(got.Parallelism) > uint32(limits.Parallelism)*2:
		return false
	case got.SaltLength < 8 || got.SaltLength > 64:
		return false
	case got.KeyLength < 16 || got.KeyLength > 128:
		return false
	}
	return true
}

func decode(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2Version) {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	params := Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: uint8(par),        // #nosec G115 -- checked <= 255 above.
		SaltLength:  uint32(len(salt)), // #nosec G115 -- bounded by the encoded string.
		KeyLength:   uint32(len(key)),  // #nosec G115 -- bounded by the encoded string.
	}
	return params, salt, key, nil
}
