package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrLockFailed = errors.New("could not acquire lock")

// Lock is a mutual-exclusion lease with an expiry.
type Lock interface {
	TryLock(ctx context.Context) (bool, error)
	Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error
	Unlock(ctx context.Context) error
}

// Locker creates locks. value identifies the holder so only the holder can
// release.
type Locker interface {
	NewLock(key, value string, expiration time.Duration) Lock
}

// RedisLocker hands out SET NX EX locks.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) NewLock(key, value string, expiration time.Duration) Lock {
	return NewDistributedLock(l.client, key, value, expiration)
}

// DistributedLock is a redis lock: SET key value NX EX to acquire, a Lua
// compare-and-delete to release so an expired holder cannot free a lock
// that now belongs to someone else.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	return retryLock(ctx, l, retryInterval, maxRetries)
}

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// LocalLocker is an in-process Locker for single-instance deployments
// running without redis.
type LocalLocker struct {
	mu     sync.Mutex
	holder map[string]localEntry
	now    func() time.Time
}

type localEntry struct {
	value     string
	expiresAt time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{holder: make(map[string]localEntry), now: time.Now}
}

func (l *LocalLocker) NewLock(key, value string, expiration time.Duration) Lock {
	return &localLock{owner: l, key: key, value: value, expiration: expiration}
}

type localLock struct {
	owner      *LocalLocker
	key        string
	value      string
	expiration time.Duration
}

func (l *localLock) TryLock(_ context.Context) (bool, error) {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()

	now := l.owner.now()
	if e, ok := l.owner.holder[l.key]; ok && now.Before(e.expiresAt) {
		return false, nil
	}
	l.owner.holder[l.key] = localEntry{value: l.value, expiresAt: now.Add(l.expiration)}
	return true, nil
}

func (l *localLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	return retryLock(ctx, l, retryInterval, maxRetries)
}

func (l *localLock) Unlock(_ context.Context) error {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()

	if e, ok := l.owner.holder[l.key]; ok && e.value == l.value {
		delete(l.owner.holder, l.key)
	}
	return nil
}

func retryLock(ctx context.Context, l Lock, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// PaymentKey scopes the lock taken while a charge is being prepared for one
// transaction.
func PaymentKey(uniqueCode string) string {
	return fmt.Sprintf("pay:lock:tx:%s", uniqueCode)
}

// VideoOrderKey serialises transaction creation for one video.
func VideoOrderKey(videoID string) string {
	return fmt.Sprintf("pay:lock:video:%s", videoID)
}

// SweepLeaseKey is held for the duration of one reconciler sweep.
const SweepLeaseKey = "reconciler:lease"
