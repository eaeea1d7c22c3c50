package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still carries our token.
var releaseScript = redis.NewScript(`
    if redis.call('GET', KEYS[1]) == ARGV[1] then
        return redis.call('DEL', KEYS[1])
    end
    return 0
`)

// RedisLocker implements Locker with SET NX PX on a shared Redis.
type RedisLocker struct {
	rdb    *redis.Client
	prefix string
	owner  string
}

// NewRedisLocker returns a locker whose keys are "<prefix>:<name>".  Each
// locker gets its own random owner token.
func NewRedisLocker(rdb *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "lock"
	}
	return &RedisLocker{rdb: rdb, prefix: prefix, owner: uuid.NewString()}
}

func (l *RedisLocker) key(name string) string { return l.prefix + ":" + name }

// Acquire sets the key if it is absent.
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, l.key(name), l.owner, ttl).Result()
}

// Release deletes the key if this locker still owns it.
func (l *RedisLocker) Release(ctx context.Context, name string) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.key(name)}, l.owner).Err()
}
