package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces lock keys so the Redis database can be shared
// with other services.
const keyPrefix = "deploygate:lock:"

// RedisLocker is a Locker backed by Redis, for running more than one
// replica of the gate behind a load balancer. The TTL is enforced by
// Redis itself (SET PX), so no sweep goroutine is needed.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a RedisLocker. A TTL of zero falls back to DefaultTTL.
func NewRedis(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// TryAcquire implements Locker using SET NX PX.
func (l *RedisLocker) TryAcquire(ctx context.Context, fingerprint, requestID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, keyPrefix+fingerprint, requestID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lock: %w", err)
	}
	return ok, nil
}

// Release implements Locker.
func (l *RedisLocker) Release(ctx context.Context, fingerprint string) error {
	if err := l.client.Del(ctx, keyPrefix+fingerprint).Err(); err != nil {
		return fmt.Errorf("releasing lock: %w", err)
	}
	return nil
}

// IsHeldBy implements Locker by scanning the lock keyspace and comparing
// holder request IDs.
func (l *RedisLocker) IsHeldBy(ctx context.Context, requestID string) (bool, error) {
	iter := l.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		holder, err := l.client.Get(ctx, iter.Val()).Result()
		if errors.Is(err, redis.Nil) {
			// Expired between SCAN and GET.
			continue
		}
		if err != nil {
			return false, fmt.Errorf("reading lock holder: %w", err)
		}
		if holder == requestID {
			return true, nil
		}
	}
	if err := iter.Err(); err != nil {
		return false, fmt.Errorf("scanning locks: %w", err)
	}
	return false, nil
}

// ActiveCount implements Locker.
func (l *RedisLocker) ActiveCount(ctx context.Context) (int, error) {
	var count int
	iter := l.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scanning locks: %w", err)
	}
	return count, nil
}
