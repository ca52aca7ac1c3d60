package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/recapz-backend/pkg/redis"
)

// RedisStore claims keys with SETNX. Redis cannot join a database
// transaction, so callers Forget the key when the guarded mutation fails.
type RedisStore struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewRedisStore(store redis.IdempotencyStore, ttl time.Duration, scope string) (*RedisStore, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &RedisStore{store: store, ttl: ttl, scope: scope}, nil
}

func (s *RedisStore) Claim(ctx context.Context, key string) (Claim, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Claim{}, ErrEmptyKey
	}
	set, err := s.store.SetNX(ctx, s.store.IdempotencyKey(s.scope, key), "1", s.ttl)
	if err != nil {
		return Claim{}, fmt.Errorf("set idempotency key: %w", err)
	}
	return Claim{Key: key, AlreadyProcessed: !set}, nil
}

// Forget drops a claim so a redelivery is processed again.
func (s *RedisStore) Forget(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return s.store.Del(ctx, s.store.IdempotencyKey(s.scope, key))
}
