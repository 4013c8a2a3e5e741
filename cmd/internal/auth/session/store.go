package session

import (
	"context"
	"time"
)

// Record is the server-side session payload.
type Record struct {
	// AccountID is the serialized identity; empty for anonymous sessions.
	AccountID string `json:"account_id,omitempty"`

	// OAuthNonce binds a pending federated handshake to this session.
	OAuthNonce string `json:"oauth_nonce,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Store persists records keyed by token digest.
//
// Get returns ErrNotFound for missing or expired keys. Connectivity failures
// wrap ErrStoreUnavailable.
type Store interface {
	Get(ctx context.Context, key string) (Record, error)
	Set(ctx context.Context, key string, rec Record, ttl time.Duration) error
	Touch(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}
