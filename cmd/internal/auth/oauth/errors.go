package oauth

import "errors"

var (
	// ErrHandshakeFailed covers provider errors, forged or expired state, nonce
	// mismatch, failed code exchange and unusable profiles.
	ErrHandshakeFailed = errors.New("federated handshake failed")

	ErrNotConfigured = errors.New("oauth provider not configured")
	ErrConfig        = errors.New("invalid oauth config")
)
