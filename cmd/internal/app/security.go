package app

import (
	"errors"

	"secretwall/cmd/security/token"
)

// sessionHasher builds the session-token digester from cfg, enforcing the
// HMAC policy at startup. Without a key, digests fall back to plain SHA-256.
func sessionHasher(cfg Config) (token.Hasher, error) {
	if cfg.TokenHMACKey == "" && !cfg.RequireTokenHMAC {
		return token.Hasher{}, nil
	}

	key, err := token.ParseHMACKey(cfg.TokenHMACKey, token.MinHMACKeyBytes)
	switch {
	case err == nil:
	case errors.Is(err, token.ErrHMACKeyMissing):
		return token.Hasher{}, errors.New("security policy: SECRETWALL_REQUIRE_TOKEN_HMAC=true but SECRETWALL_TOKEN_HMAC_KEY is missing")
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return token.Hasher{}, errors.New("security policy: SECRETWALL_TOKEN_HMAC_KEY is too short (min 32 bytes)")
	default:
		return token.Hasher{}, err
	}

	h := token.NewHasher(key)
	if cfg.RequireTokenHMAC && !h.Keyed() {
		return token.Hasher{}, errors.New("security policy: token hasher is not in HMAC mode")
	}
	return h, nil
}
