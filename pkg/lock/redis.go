package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lock:"

// releaseScript performs the compare-and-delete atomically: the lock is
// removed only if it is still held by the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// extendScript performs the compare-and-set atomically: the TTL is reset
// only if the lock is still held by the caller's token.
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// RedisLocker implements Locker on top of a Redis client using SET NX PX
// for acquisition and Lua scripts for the atomic release/extend.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker wraps an existing Redis client.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func lockKey(resourceKey string) string {
	return keyPrefix + resourceKey
}

// Acquire implements Locker.
func (r *RedisLocker) Acquire(ctx context.Context, resourceKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, lockKey(resourceKey), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis lock acquire %s: %w", resourceKey, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release implements Locker.
func (r *RedisLocker) Release(ctx context.Context, resourceKey, token string) (bool, error) {
	result, err := releaseScript.Run(ctx, r.client, []string{lockKey(resourceKey)}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("redis lock release %s: %w", resourceKey, err)
	}
	return result == 1, nil
}

// Extend implements Locker.
func (r *RedisLocker) Extend(ctx context.Context, resourceKey, token string, additionalTTL time.Duration) (bool, error) {
	result, err := extendScript.Run(ctx, r.client, []string{lockKey(resourceKey)}, token, additionalTTL.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis lock extend %s: %w", resourceKey, err)
	}
	return result == 1, nil
}

// IsLocked implements Locker.
func (r *RedisLocker) IsLocked(ctx context.Context, resourceKey string) (bool, error) {
	n, err := r.client.Exists(ctx, lockKey(resourceKey)).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock exists %s: %w", resourceKey, err)
	}
	return n > 0, nil
}
