package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisAttemptPrefix = "login_attempts:"

// RedisTracker is an AttemptTracker backed by a shared Redis instance, the
// swap-in for multi-instance deployments. INCR serializes same-identifier
// updates on the server; the window TTL starts at the first failure.
type RedisTracker struct {
	client      *redis.Client
	maxAttempts int
	window      time.Duration
}

// NewRedisTracker builds a Redis-backed tracker with the given policy.
func NewRedisTracker(client *redis.Client, maxAttempts int, window time.Duration) *RedisTracker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultAttemptWindow
	}
	return &RedisTracker{client: client, maxAttempts: maxAttempts, window: window}
}

func (t *RedisTracker) key(id string) string {
	return redisAttemptPrefix + normalizeIdentifier(id)
}

// RecordFailure increments the identifier's counter, starting the window on
// the first failure.
func (t *RedisTracker) RecordFailure(ctx context.Context, id string) error {
	key := t.key(id)
	count, err := t.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: attempt store: %v", ErrInternal, err)
	}
	if count == 1 {
		if err := t.client.Expire(ctx, key, t.window).Err(); err != nil {
			return fmt.Errorf("%w: attempt store: %v", ErrInternal, err)
		}
	}
	return nil
}

// RecordSuccess deletes the identifier's counter unconditionally.
func (t *RedisTracker) RecordSuccess(ctx context.Context, id string) error {
	if err := t.client.Del(ctx, t.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: attempt store: %v", ErrInternal, err)
	}
	return nil
}

// Blocked reports whether the identifier's counter reached the limit. A
// missing key means the window elapsed or never started.
func (t *RedisTracker) Blocked(ctx context.Context, id string) (bool, error) {
	count, err := t.client.Get(ctx, t.key(id)).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: attempt store: %v", ErrInternal, err)
	}
	return count >= int64(t.maxAttempts), nil
}
