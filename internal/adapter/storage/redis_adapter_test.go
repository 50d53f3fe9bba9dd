package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisLock_ExclusiveAndReleased(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	adapter := NewRedisAdapter(client, 5*time.Second)
	ctx := context.Background()
	key := "inventory:lock:test:" + uuid.NewString()
	defer client.Del(ctx, key)

	release, err := adapter.Lock(ctx, key)
	require.NoError(t, err)

	timeout, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = adapter.Lock(timeout, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	exists, err := client.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	again, err := adapter.Lock(ctx, key)
	require.NoError(t, err)
	again()
}

func TestRedisLock_ExpiredLockIsNotStolenBack(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	adapter := NewRedisAdapter(client, 50*time.Millisecond)
	ctx := context.Background()
	key := "inventory:lock:test:" + uuid.NewString()
	defer client.Del(ctx, key)

	stale, err := adapter.Lock(ctx, key)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	fresh, err := adapter.Lock(ctx, key)
	require.NoError(t, err)
	defer fresh()

	// The first holder's release must not delete the second holder's lock.
	stale()
	exists, err := client.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}

func TestRedisLock_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	adapter := NewRedisAdapter(client, 5*time.Second)
	ctx := context.Background()
	key := "inventory:lock:test:" + uuid.NewString()
	defer client.Del(ctx, key)

	var counter, inside, overlap atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := adapter.Lock(ctx, key)
			if err != nil {
				return
			}
			if inside.Add(1) > 1 {
				overlap.Add(1)
			}
			counter.Add(1)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), counter.Load())
	assert.Zero(t, overlap.Load())
}

func TestRedisSequence(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	adapter := NewRedisAdapter(client, 0)
	ctx := context.Background()
	scope := "batch:test:" + uuid.NewString()
	defer client.Del(ctx, sequenceKeyPrefix+scope)

	first, err := adapter.Next(ctx, scope)
	require.NoError(t, err)
	second, err := adapter.Next(ctx, scope)
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)

	ttl, err := client.PTTL(ctx, sequenceKeyPrefix+scope).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 47*time.Hour)
}

func TestSetIdempotency_Success(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	adapter := NewRedisAdapter(client, 0)
	ctx := context.Background()
	key := "inventory:request:test:" + uuid.NewString()
	defer client.Del(ctx, key)

	ok, err := adapter.SetIdempotency(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = adapter.SetIdempotency(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, adapter.ReleaseIdempotency(ctx, key))
	ok, err = adapter.SetIdempotency(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetIdempotency_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	adapter := NewRedisAdapter(client, 0)
	ctx := context.Background()
	key := "inventory:request:test:" + uuid.NewString()
	defer client.Del(ctx, key)

	var claimed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := adapter.SetIdempotency(ctx, key); err == nil && ok {
				claimed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), claimed.Load())
	assert.NoError(t, adapter.Ping(ctx))
}
