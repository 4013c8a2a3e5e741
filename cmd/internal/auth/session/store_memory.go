package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for single-instance and test runs.
// Expired entries are dropped lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	rec     Record
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return Record{}, ErrNotFound
	}
	return e.rec, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{rec: rec, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Touch(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return ErrNotFound
	}
	e.expires = s.now().Add(ttl)
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// live must be called with mu held.
func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.now().Before(e.expires) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}
