package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockKey is the Redis key guarding batch sync runs.
const DefaultLockKey = "delivery:sync:lock"

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the TTL only if the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLock is a Locker shared by every replica using the same Redis.
type RedisLock struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// NewRedisLock creates a lock on key. The TTL bounds how long a crashed
// holder can block other replicas; a live holder keeps extending it.
func NewRedisLock(client redis.Cmdable, key string, ttl time.Duration) *RedisLock {
	if key == "" {
		key = DefaultLockKey
	}
	return &RedisLock{client: client, key: key, ttl: ttl}
}

// Acquire takes the lock with SET NX. A held lock yields ErrSyncAlreadyRunning.
func (l *RedisLock) Acquire(ctx context.Context) (Lease, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring sync lock: %w", err)
	}
	if !ok {
		return nil, ErrSyncAlreadyRunning
	}

	return &redisLease{lock: l, token: token, extended: time.Now()}, nil
}

type redisLease struct {
	lock     *RedisLock
	token    string
	extended time.Time
}

// Extend pushes the expiry back to a full TTL. Calls within a third of the
// TTL of the previous extension are skipped.
func (le *redisLease) Extend(ctx context.Context) error {
	if time.Since(le.extended) < le.lock.ttl/3 {
		return nil
	}
	n, err := extendScript.Run(ctx, le.lock.client, []string{le.lock.key}, le.token, le.lock.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extending sync lock: %w", err)
	}
	if n == 0 {
		return ErrLockLost
	}
	le.extended = time.Now()
	return nil
}

func (le *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, le.lock.client, []string{le.lock.key}, le.token).Err(); err != nil {
		return fmt.Errorf("releasing sync lock: %w", err)
	}
	return nil
}

// OpenRedis connects to Redis and pings it.
func OpenRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

var _ Locker = (*RedisLock)(nil)
