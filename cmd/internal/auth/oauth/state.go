package oauth

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const stateAudience = "secretwall/oauth-state"

type stateClaims struct {
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

func signState(key []byte, nonce string, now time.Time, ttl time.Duration) (string, error) {
	claims := stateClaims{
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{stateAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// verifyState checks signature, audience and expiry, then compares the
// embedded nonce with the one held by the session.
func verifyState(key []byte, raw, wantNonce string, now time.Time) error {
	if raw == "" {
		return fmt.Errorf("%w: missing state", ErrHandshakeFailed)
	}
	if wantNonce == "" {
		return fmt.Errorf("%w: no pending handshake", ErrHandshakeFailed)
	}

	var claims stateClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(stateAudience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return fmt.Errorf("%w: state: %w", ErrHandshakeFailed, err)
	}

	if subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(wantNonce)) != 1 {
		return fmt.Errorf("%w: nonce mismatch", ErrHandshakeFailed)
	}
	return nil
}
