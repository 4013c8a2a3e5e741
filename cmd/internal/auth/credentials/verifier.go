// Package credentials checks who a user claims to be.
//
// Verifier owns the password hashing policy for local accounts and the
// find-or-create rule for federated ones. It never writes sessions; callers
// establish the login once a Verifier call succeeds.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"secretwall/cmd/identity"
	"secretwall/cmd/security/password"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateUsername  = errors.New("username already registered")
)

// IsInvalidInput reports whether err is a rejected username, password or
// other malformed input rather than a credential or store failure.
func IsInvalidInput(err error) bool {
	return identity.IsInvalidInput(err) ||
		errors.Is(err, password.ErrPasswordTooShort) ||
		errors.Is(err, password.ErrPasswordTooLong) ||
		errors.Is(err, password.ErrWeakPassword)
}

type Verifier struct {
	accounts identity.Store
	pw       password.Config
	log      *slog.Logger
	now      func() time.Time

	// dummyHash is verified against when no stored hash exists so unknown
	// usernames cost the same as wrong passwords.
	dummyHash string
}

func NewVerifier(accounts identity.Store, pw password.Config, log *slog.Logger) (*Verifier, error) {
	if accounts == nil {
		return nil, errors.New("credentials: nil account store")
	}
	if log == nil {
		log = slog.Default()
	}

	policy := pw
	policy.Policy.MinLength = 1
	policy.Policy.RejectVeryWeak = false
	dummy, err := policy.Hash("secretwall-dummy-password")
	if err != nil {
		return nil, fmt.Errorf("credentials: dummy hash: %w", err)
	}

	return &Verifier{
		accounts:  accounts,
		pw:        pw,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		dummyHash: dummy,
	}, nil
}

// Register creates a local account for username with a freshly salted hash of pass.
func (v *Verifier) Register(ctx context.Context, username, pass string) (identity.Account, error) {
	const op = "credentials.Register"

	if err := identity.ValidateUsername(op, username); err != nil {
		return identity.Account{}, err
	}

	// Skip the hashing cost for names that are obviously taken. The store's
	// uniqueness constraint still decides races.
	if _, err := v.accounts.GetCredential(ctx, username); err == nil {
		return identity.Account{}, ErrDuplicateUsername
	} else if !identity.IsNotFound(err) {
		return identity.Account{}, err
	}

	hash, err := v.pw.Hash(pass)
	if err != nil {
		return identity.Account{}, err
	}

	acct, err := v.accounts.CreateLocal(ctx, identity.CreateLocalInput{
		Username:     username,
		PasswordHash: hash,
		Now:          v.now(),
	})
	if err != nil {
		if field, ok := identity.ConflictField(err); ok && field == "username" {
			return identity.Account{}, fmt.Errorf("%w: %w", ErrDuplicateUsername, err)
		}
		return identity.Account{}, err
	}
	return acct, nil
}

// Authenticate returns the local account matching username and pass.
// Unknown users, federated-only accounts and wrong passwords all yield
// ErrInvalidCredentials.
func (v *Verifier) Authenticate(ctx context.Context, username, pass string) (identity.Account, error) {
	cred, err := v.accounts.GetCredential(ctx, username)
	if err != nil {
		if identity.IsNotFound(err) {
			v.burn(pass)
			return identity.Account{}, ErrInvalidCredentials
		}
		return identity.Account{}, err
	}
	if cred.PasswordHash == "" {
		v.burn(pass)
		return identity.Account{}, ErrInvalidCredentials
	}

	ok, err := v.pw.Verify(cred.PasswordHash, pass)
	if err != nil {
		v.log.Error("auth.hash.invalid", "account_id", cred.Account.ID, "err", err)
		return identity.Account{}, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	if !ok {
		return identity.Account{}, ErrInvalidCredentials
	}

	if v.pw.NeedsRehash(cred.PasswordHash) {
		v.rehash(ctx, cred.Account.ID, pass)
	}
	return cred.Account, nil
}

// rehash upgrades a hash made under older argon2 parameters. Failures are
// logged only; the login already succeeded.
func (v *Verifier) rehash(ctx context.Context, id, pass string) {
	hash, err := v.pw.Hash(pass)
	if err != nil {
		v.log.Warn("auth.rehash.fail", "account_id", id, "err", err)
		return
	}
	if err := v.accounts.UpdatePasswordHash(ctx, id, hash); err != nil {
		v.log.Warn("auth.rehash.fail", "account_id", id, "err", err)
		return
	}
	v.log.Info("auth.rehash.ok", "account_id", id)
}

// FindOrCreateFederated returns the account bound to (provider, subject),
// creating it on first sight.
func (v *Verifier) FindOrCreateFederated(ctx context.Context, provider, subject string) (identity.Account, error) {
	acct, created, err := v.accounts.FindOrCreateFederated(ctx, identity.FederatedInput{
		Provider: provider,
		Subject:  subject,
		Now:      v.now(),
	})
	if err != nil {
		return identity.Account{}, err
	}
	if created {
		v.log.Info("auth.federated.created", "account_id", acct.ID, "provider", provider)
	}
	return acct, nil
}

func (v *Verifier) burn(pass string) {
	_, _ = v.pw.Verify(v.dummyHash, pass)
}
