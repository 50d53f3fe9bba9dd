package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sequenceKeyPrefix = "sequence:"
	idempotencyKeyTTL = 24 * time.Hour
	sequenceKeyTTL    = 48 * time.Hour

	defaultLockTTL   = 10 * time.Second
	lockRetryBackoff = 20 * time.Millisecond
)

var ErrLockNotHeld = errors.New("lock not held")

var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

var nextSequenceScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisAdapter provides the cross-process lock, batch sequences and request
// id claims.
type RedisAdapter struct {
	client  *redis.Client
	lockTTL time.Duration
}

func NewRedisAdapter(client *redis.Client, lockTTL time.Duration) *RedisAdapter {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &RedisAdapter{client: client, lockTTL: lockTTL}
}

// Lock spins on SET NX until the key is held or ctx ends. The lock expires
// after lockTTL if its holder dies.
func (r *RedisAdapter) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryBackoff):
		}
	}

	return func() {
		// released outside the caller's ctx so cancellation cannot leak the lock
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.unlock(ctx, key, token)
	}, nil
}

func (r *RedisAdapter) unlock(ctx context.Context, key, token string) error {
	n, err := releaseLockScript.Run(ctx, r.client, []string{key}, token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (r *RedisAdapter) Next(ctx context.Context, scope string) (int64, error) {
	return nextSequenceScript.Run(ctx, r.client, []string{sequenceKeyPrefix + scope}, sequenceKeyTTL.Milliseconds()).Int64()
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
