package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps records as JSON strings with a native Redis TTL.
// The client is owned by the caller.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(k string) string { return s.prefix + ":" + k }

func (s *RedisStore) Get(ctx context.Context, key string) (Record, error) {
	b, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, ErrNotFound
		}
		return Record{}, unavailable("get", err)
	}

	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	return rec, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key(key), b, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (s *RedisStore) Touch(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := s.rdb.Expire(ctx, s.key(key), ttl).Result()
	if err != nil {
		return unavailable("touch", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("session.redis.%s: %w: %w", op, ErrStoreUnavailable, err)
}
