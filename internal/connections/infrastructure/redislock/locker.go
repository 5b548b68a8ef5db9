// Package redislock provides a Redis-backed refresh lock so that multiple
// processes sharing a connection record do not race duplicate token refreshes.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired is returned when another process holds the refresh lock.
// Callers treat it as "refresh already in flight" and retry the read.
var ErrLockNotAcquired = errors.New("refresh lock not acquired")

// Locker acquires a per-connection lock with a TTL guard against crashed
// holders.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLocker creates a Redis refresh locker.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: client, ttl: ttl}
}

// unlockScript releases the key only when the caller still owns it.
var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// WithLock runs fn while holding the per-connection lock. The function runs
// with a deadline bounded by the lock TTL so a slow refresh cannot outlive
// its lock.
func (l *Locker) WithLock(ctx context.Context, connectionID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:connection:%s", connectionID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire refresh lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_, _ = unlockScript.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Result()
	}()

	lockCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()
	return fn(lockCtx)
}
