package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const testHash = "$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2U"

// runStoreContract exercises the behavior every Store implementation shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("create local and read back", func(t *testing.T) {
		s := newStore(t)
		ctx := testCtx(t)

		acct, err := s.CreateLocal(ctx, CreateLocalInput{Username: "  Alice@Example.com ", PasswordHash: testHash})
		require.NoError(t, err)
		assert.True(t, ValidID(acct.ID))
		require.NotNil(t, acct.Username)
		assert.Equal(t, "Alice@Example.com", *acct.Username)
		assert.Equal(t, "alice@example.com", *acct.UsernameNorm)
		assert.Nil(t, acct.Provider)
		assert.False(t, acct.HasSecret())

		got, err := s.GetByID(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, acct.ID, got.ID)

		cred, err := s.GetCredential(ctx, "ALICE@example.com")
		require.NoError(t, err)
		assert.Equal(t, acct.ID, cred.Account.ID)
		assert.Equal(t, testHash, cred.PasswordHash)
	})

	t.Run("duplicate username is a conflict and keeps the first credential", func(t *testing.T) {
		s := newStore(t)
		ctx := testCtx(t)

		first, err := s.CreateLocal(ctx, CreateLocalInput{Username: "Navid", PasswordHash: testHash})
		require.NoError(t, err)

		_, err = s.CreateLocal(ctx, CreateLocalInput{Username: "nAvId", PasswordHash: testHash + "x"})
		require.Error(t, err)
		assert.True(t, IsConflict(err))
		field, ok := ConflictField(err)
		assert.True(t, ok)
		assert.Equal(t, "username", field)

		cred, err := s.GetCredential(ctx, "navid")
		require.NoError(t, err)
		assert.Equal(t, first.ID, cred.Account.ID)
		assert.Equal(t, testHash, cred.PasswordHash)
	})

	t.Run("invalid input", func(t *testing.T) {
		s := newStore(t)
		ctx := testCtx(t)

		_, err := s.CreateLocal(ctx, CreateLocalInput{Username: "   ", PasswordHash: testHash})
		assert.True(t, IsInvalidInput(err), "%v", err)

		_, err = s.CreateLocal(ctx, CreateLocalInput{Username: "bob", PasswordHash: ""})
		assert.True(t, IsInvalidInput(err), "%v", err)

		_, _, err = s.FindOrCreateFederated(ctx, FederatedInput{Provider: ProviderGoogle})
		assert.True(t, IsInvalidInput(err), "%v", err)
	})

	t.Run("password hash update keeps wall order", func(t *testing.T) {
		s := newStore(t)
		ctx := testCtx(t)

		acct, err := s.CreateLocal(ctx, CreateLocalInput{Username: "carol", PasswordHash: testHash})
		require.NoError(t, err)
		before, err := s.SetSecret(ctx, acct.ID, "I hum while I type", time.Now())
		require.NoError(t, err)

		require.NoError(t, s.UpdatePasswordHash(ctx, acct.ID, testHash+"v2"))

		cred, err := s.GetCredential(ctx, "carol")
		require.NoError(t, err)
		assert.Equal(t, testHash+"v2", cred.PasswordHash)
		assert.True(t, before.UpdatedAt.Equal(cred.Account.UpdatedAt))

		err = s.UpdatePasswordHash(ctx, acct.ID, " ")
		assert.True(t, IsInvalidInput(err), "%v", err)

		fed, _, err := s.FindOrCreateFederated(ctx, FederatedInput{Provider: ProviderGoogle, Subject: "77"})
		require.NoError(t, err)
		err = s.UpdatePasswordHash(ctx, fed.ID, testHash)
		assert.True(t, IsNotFound(err), "federated accounts have no credential: %v", err)
	})

	t.Run("missing accounts", func(t *testing.T) {
		s := newStore(t)
		ctx := testCtx(t)

		missing, err := NewULID(time.Now())
		require.NoError(t, err)

		_, err = s.GetByID(ctx, missing)
		assert.True(t, IsNotFound(err), "%v", err)

		_, err = s.GetByID(ctx, "not-a-ulid")
		assert.True(t, IsNotFound(err), "%v", err)

		_, err = s.GetCredential(ctx, "nobody")
		assert.True(t, IsNotFound(err), "%v", err)

		_, err = s.SetSecret(ctx, missing, "hello", time.Now())
		assert.True(t, IsNotFound(err), "%v", err)
	})

	t.Run("federated find or create is idempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := testCtx(t)

		a, created, err := s.FindOrCreateFederated(ctx, FederatedInput{Provider: ProviderGoogle, Subject: "1234"})
		require.NoError(t, err)
		assert.True(t, created)
		require.NotNil(t, a.Subject)
		assert.Equal(t, "1234", *a.Subject)
		assert.Nil(t, a.Username)

		b, created, err := s.FindOrCreateFederated(ctx, FederatedInput{Provider: "Google", Subject: "1234"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, a.ID, b.ID)

		other, created, err := s.FindOrCreateFederated(ctx, FederatedInput{Provider: ProviderGoogle, Subject: "5678"})
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, a.ID, other.ID)
	})

	t.Run("concurrent first federated logins create one account", func(t *testing.T) {
		s := newStore(t)
		ctx := testCtx(t)

		const workers = 16
		ids := make([]string, workers)
		var g errgroup.Group
		for i := range workers {
			g.Go(func() error {
				acct, _, err := s.FindOrCreateFederated(ctx, FederatedInput{Provider: ProviderGoogle, Subject: "race"})
				ids[i] = acct.ID
				return err
			})
		}
		require.NoError(t, g.Wait())

		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
	})

	t.Run("secret overwrite is last write wins", func(t *testing.T) {
		s := newStore(t)
		ctx := testCtx(t)

		acct, err := s.CreateLocal(ctx, CreateLocalInput{Username: "writer", PasswordHash: testHash})
		require.NoError(t, err)
		other, _, err := s.FindOrCreateFederated(ctx, FederatedInput{Provider: ProviderGoogle, Subject: "reader"})
		require.NoError(t, err)

		base := time.Now().UTC().Truncate(time.Millisecond)
		_, err = s.SetSecret(ctx, acct.ID, "S1", base)
		require.NoError(t, err)
		updated, err := s.SetSecret(ctx, acct.ID, "  S2  ", base.Add(time.Second))
		require.NoError(t, err)
		require.NotNil(t, updated.Secret)
		assert.Equal(t, "S2", *updated.Secret)

		wall, err := s.ListWithSecrets(ctx)
		require.NoError(t, err)
		require.Len(t, wall, 1)
		assert.Equal(t, acct.ID, wall[0].ID)
		assert.Equal(t, "S2", *wall[0].Secret)

		_, err = s.SetSecret(ctx, other.ID, "mine", base.Add(2*time.Second))
		require.NoError(t, err)

		wall, err = s.ListWithSecrets(ctx)
		require.NoError(t, err)
		require.Len(t, wall, 2)
		assert.Equal(t, other.ID, wall[0].ID, "most recent first")
	})

	t.Run("empty secret is rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := testCtx(t)

		acct, err := s.CreateLocal(ctx, CreateLocalInput{Username: "blank", PasswordHash: testHash})
		require.NoError(t, err)

		_, err = s.SetSecret(ctx, acct.ID, "   ", time.Now())
		assert.True(t, IsInvalidInput(err), "%v", err)
	})
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}
