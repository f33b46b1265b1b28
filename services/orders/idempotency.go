package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// HeaderXIdempotencyKey lets a client retry POST /api/orders safely
const HeaderXIdempotencyKey = "X-Idempotency-Key"

const idempotencyPending = "pending"

// IdempotencyStore remembers which order a client key produced
type IdempotencyStore interface {
	// Begin claims key. When the key was already used it returns the order
	// id it produced and started=false, or ErrIdempotencyKeyInProgress while
	// the first request is still running.
	Begin(ctx context.Context, key string) (orderID string, started bool, err error)
	Complete(ctx context.Context, key, orderID string) error
	Abort(ctx context.Context, key string) error
}

type RedisIdempotencyStore struct {
	client      redis.Cmdable
	serviceName string
	ttl         time.Duration
}

func NewRedisIdempotencyStore(client redis.Cmdable, serviceName string, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{
		client:      client,
		serviceName: serviceName,
		ttl:         ttl,
	}
}

func (s *RedisIdempotencyStore) GenerateKey(key string) string {
	return fmt.Sprintf("%s:%s:%s", s.serviceName, "create-order", key)
}

func (s *RedisIdempotencyStore) Begin(ctx context.Context, key string) (string, bool, error) {
	k := s.GenerateKey(key)

	ok, err := s.client.SetNX(ctx, k, idempotencyPending, s.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	if ok {
		return "", true, nil
	}

	val, err := s.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return "", false, ErrIdempotencyKeyInProgress
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	if val == idempotencyPending {
		return "", false, ErrIdempotencyKeyInProgress
	}
	return val, false, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, key, orderID string) error {
	return s.client.Set(ctx, s.GenerateKey(key), orderID, s.ttl).Err()
}

func (s *RedisIdempotencyStore) Abort(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.GenerateKey(key)).Err()
}
