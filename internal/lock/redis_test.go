package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisForTest connects to REDIS_ADDR and skips the test when no server is
// reachable.
func redisForTest(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	rdb := redisForTest(t)
	ctx := context.Background()
	prefix := "locktest-" + time.Now().Format("150405.000000")

	a := NewRedisLocker(rdb, prefix)
	b := NewRedisLocker(rdb, prefix)

	ok, err := a.Acquire(ctx, "sweep:admission", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx, "sweep:admission", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// b does not own the key, so its release leaves a's lock in place.
	require.NoError(t, b.Release(ctx, "sweep:admission"))
	ok, err = b.Acquire(ctx, "sweep:admission", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Release(ctx, "sweep:admission"))
	ok, err = b.Acquire(ctx, "sweep:admission", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Release(ctx, "sweep:admission"))
}
