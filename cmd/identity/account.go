package identity

import (
	"context"
	"time"
)

// Provider names for federated identities.
const ProviderGoogle = "google"

// Account is secretwall's canonical principal.
type Account struct {
	ID string

	// Local credential. Both nil for federated-only accounts.
	Username     *string
	UsernameNorm *string

	// Federated identity. Both nil for local-only accounts.
	Provider *string
	Subject  *string

	Secret *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Account) HasSecret() bool { return a.Secret != nil && *a.Secret != "" }

// Credential pairs an account with its stored password hash.
type Credential struct {
	Account      Account
	PasswordHash string
}

// CreateLocalInput registers a username/password account.
// PasswordHash must already be an encoded hash; stores never see plaintext.
type CreateLocalInput struct {
	Username     string
	PasswordHash string
	Now          time.Time
}

type FederatedInput struct {
	Provider string
	Subject  string
	Now      time.Time
}

// Store is the account persistence boundary.
type Store interface {
	// CreateLocal fails with ConflictError{Field: "username"} when the
	// normalized username is taken.
	CreateLocal(ctx context.Context, in CreateLocalInput) (Account, error)

	// FindOrCreateFederated returns the account bound to (provider, subject),
	// creating it if none exists. Concurrent first calls for the same pair
	// yield the same account. created reports whether this call inserted it.
	FindOrCreateFederated(ctx context.Context, in FederatedInput) (acct Account, created bool, err error)

	GetByID(ctx context.Context, id string) (Account, error)
	GetCredential(ctx context.Context, username string) (Credential, error)

	// UpdatePasswordHash replaces a local account's hash. It leaves
	// UpdatedAt alone since that orders the wall.
	UpdatePasswordHash(ctx context.Context, id, hash string) error

	// SetSecret overwrites the account's secret.
	SetSecret(ctx context.Context, id, secret string, now time.Time) (Account, error)

	// ListWithSecrets returns accounts holding a non-empty secret, most
	// recently updated first.
	ListWithSecrets(ctx context.Context) ([]Account, error)

	Ping(ctx context.Context) error
}

func strPtr(s string) *string { return &s }

func cloneAccount(a Account) Account {
	out := a
	for _, p := range []**string{&out.Username, &out.UsernameNorm, &out.Provider, &out.Subject, &out.Secret} {
		if *p != nil {
			*p = strPtr(**p)
		}
	}
	return out
}
