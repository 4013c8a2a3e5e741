package session

import (
	"context"
	"fmt"

	"secretwall/cmd/identity"
)

// AccountReader is the slice of identity.Store the Serializer needs.
type AccountReader interface {
	GetByID(ctx context.Context, id string) (identity.Account, error)
}

// Serializer maps accounts to the compact key stored in a session record and back.
type Serializer struct {
	accounts AccountReader
}

func NewSerializer(accounts AccountReader) Serializer {
	return Serializer{accounts: accounts}
}

// Serialize returns the account's immutable ID, which is injective over accounts.
func (Serializer) Serialize(a identity.Account) string { return a.ID }

// Deserialize loads the account behind key. A key that no longer resolves
// yields ErrUnresolvedIdentity; store failures are returned unchanged.
func (s Serializer) Deserialize(ctx context.Context, key string) (identity.Account, error) {
	if key == "" {
		return identity.Account{}, ErrUnresolvedIdentity
	}
	acct, err := s.accounts.GetByID(ctx, key)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.Account{}, fmt.Errorf("%w: %w", ErrUnresolvedIdentity, err)
		}
		return identity.Account{}, err
	}
	return acct, nil
}
