// Package lock provides a Redis backed mutual exclusion lock for work that
// must run on a single replica at a time, such as the demo event generator.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"poolwatch/pkg/logger"
)

const (
	DefaultTTL            = 30 * time.Second
	DefaultAcquireTimeout = 5 * time.Second
)

// Locker is a non-blocking lock
type Locker interface {
	// TryLock attempts to take the lock and reports whether it did
	TryLock(ctx context.Context) (bool, error)
	// Unlock releases the lock if held
	Unlock(ctx context.Context) error
	// IsHeld reports whether this instance currently owns the lock
	IsHeld() bool
}

// Only the owner may release or extend the key
var (
	unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

	renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`)
)

// RedisLock is a SET NX PX lock with background renewal. A nil client means
// single-instance mode: TryLock always succeeds.
type RedisLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration

	mu        sync.Mutex
	held      bool
	stopRenew chan struct{}
}

// NewRedisLock creates a lock on key with the default TTL
func NewRedisLock(client *redis.Client, key string) *RedisLock {
	return NewRedisLockWithTTL(client, key, DefaultTTL)
}

// NewRedisLockWithTTL creates a lock on key. The key expires after ttl unless renewed.
func NewRedisLockWithTTL(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLock{
		client: client,
		key:    key,
		value:  key + "-" + uuid.NewString(),
		ttl:    ttl,
	}
}

// Key returns the Redis key of the lock
func (l *RedisLock) Key() string {
	return l.key
}

// TryLock implements Locker
func (l *RedisLock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return true, nil
	}
	if l.client == nil {
		l.held = true
		return true, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, DefaultAcquireTimeout)
	defer cancel()

	acquired, err := l.client.SetNX(acquireCtx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !acquired {
		logger.DebugCtx(ctx, "lock %s is held by another instance", l.key)
		return false, nil
	}

	l.held = true
	l.stopRenew = make(chan struct{})
	go l.renew(l.stopRenew)

	logger.DebugCtx(ctx, "lock %s acquired", l.key)
	return true, nil
}

// Unlock implements Locker
func (l *RedisLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return nil
	}
	l.held = false
	if l.stopRenew != nil {
		close(l.stopRenew)
		l.stopRenew = nil
	}
	l.mu.Unlock()

	if l.client == nil {
		return nil
	}

	released, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if released == 0 {
		logger.WarnCtx(ctx, "lock %s was already released or taken over", l.key)
	}
	return nil
}

// IsHeld implements Locker
func (l *RedisLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *RedisLock) renew(stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), DefaultAcquireTimeout)
			ok, err := renewScript.Run(ctx, l.client, []string{l.key}, l.value, l.ttl.Milliseconds()).Int64()
			cancel()
			if err == nil && ok == 1 {
				continue
			}

			if err != nil {
				logger.Warnf("failed to renew lock %s: %v", l.key, err)
			} else {
				logger.Warnf("lock %s lost before renewal", l.key)
			}
			l.mu.Lock()
			if l.stopRenew == stop {
				l.held = false
				close(l.stopRenew)
				l.stopRenew = nil
			}
			l.mu.Unlock()
			return
		}
	}
}
