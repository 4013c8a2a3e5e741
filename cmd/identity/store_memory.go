package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used when no database is configured.
// Contents are lost on restart.
type MemoryStore struct {
	mu sync.RWMutex

	byID        map[string]*memoryAccount
	byUsername  map[string]string // username_norm -> id
	byFederated map[string]string // provider \x00 subject -> id
}

type memoryAccount struct {
	acct         Account
	passwordHash string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:        make(map[string]*memoryAccount),
		byUsername:  make(map[string]string),
		byFederated: make(map[string]string),
	}
}

func federatedKey(provider, subject string) string { return provider + "\x00" + subject }

func (s *MemoryStore) CreateLocal(ctx context.Context, in CreateLocalInput) (Account, error) {
	const op = "identity.CreateLocal"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if err := ValidateUsername(op, in.Username); err != nil {
		return Account{}, err
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return Account{}, invalid(op, "password hash is required")
	}

	now := nowOr(in.Now)
	id, err := NewULID(now)
	if err != nil {
		return Account{}, err
	}

	username := strings.TrimSpace(in.Username)
	norm := NormalizeUsername(username)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byUsername[norm]; taken {
		return Account{}, ConflictError{Op: op, Field: "username"}
	}

	acct := Account{
		ID:           id,
		Username:     strPtr(username),
		UsernameNorm: strPtr(norm),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.byID[id] = &memoryAccount{acct: acct, passwordHash: in.PasswordHash}
	s.byUsername[norm] = id

	return cloneAccount(acct), nil
}

func (s *MemoryStore) FindOrCreateFederated(ctx context.Context, in FederatedInput) (Account, bool, error) {
	const op = "identity.FindOrCreateFederated"

	if err := ctx.Err(); err != nil {
		return Account{}, false, err
	}
	provider, subject, err := validateFederated(op, in)
	if err != nil {
		return Account{}, false, err
	}

	key := federatedKey(provider, subject)

	s.mu.RLock()
	if id, ok := s.byFederated[key]; ok {
		acct := cloneAccount(s.byID[id].acct)
		s.mu.RUnlock()
		return acct, false, nil
	}
	s.mu.RUnlock()

	now := nowOr(in.Now)
	id, err := NewULID(now)
	if err != nil {
		return Account{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have won between the two locks.
	if existing, ok := s.byFederated[key]; ok {
		return cloneAccount(s.byID[existing].acct), false, nil
	}

	acct := Account{
		ID:        id,
		Provider:  strPtr(provider),
		Subject:   strPtr(subject),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byID[id] = &memoryAccount{acct: acct}
	s.byFederated[key] = id

	return cloneAccount(acct), true, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (Account, error) {
	const op = "identity.GetByID"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	return cloneAccount(rec.acct), nil
}

func (s *MemoryStore) GetCredential(ctx context.Context, username string) (Credential, error) {
	const op = "identity.GetCredential"

	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[NormalizeUsername(username)]
	if !ok {
		return Credential{}, NotFoundError{Op: op, Resource: "account"}
	}
	rec := s.byID[id]
	return Credential{Account: cloneAccount(rec.acct), PasswordHash: rec.passwordHash}, nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	const op = "identity.UpdatePasswordHash"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(hash) == "" {
		return invalid(op, "password hash is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok || rec.passwordHash == "" {
		return NotFoundError{Op: op, Resource: "credential"}
	}
	rec.passwordHash = hash
	return nil
}

func (s *MemoryStore) SetSecret(ctx context.Context, id, secret string, now time.Time) (Account, error) {
	const op = "identity.SetSecret"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	secret, err := NormalizeSecret(op, secret)
	if err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	rec.acct.Secret = strPtr(secret)
	rec.acct.UpdatedAt = nowOr(now)

	return cloneAccount(rec.acct), nil
}

func (s *MemoryStore) ListWithSecrets(ctx context.Context) ([]Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]Account, 0, len(s.byID))
	for _, rec := range s.byID {
		if rec.acct.HasSecret() {
			out = append(out, cloneAccount(rec.acct))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func validateFederated(op string, in FederatedInput) (string, string, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	subject := strings.TrimSpace(in.Subject)
	if provider == "" {
		return "", "", invalid(op, "provider is required")
	}
	if subject == "" {
		return "", "", invalid(op, "subject is required")
	}
	return provider, subject, nil
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
