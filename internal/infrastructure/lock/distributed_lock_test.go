package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T) (*miniredis.Miniredis, *RedisLocker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisLocker(client)
}

func TestRedisLock_Exclusive(t *testing.T) {
	mr, locker := newRedisLocker(t)
	ctx := context.Background()

	a := locker.NewLock(PaymentKey("uc-1"), "holder-a", time.Minute)
	b := locker.NewLock(PaymentKey("uc-1"), "holder-b", time.Minute)

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Unlock(ctx))
	assert.True(t, mr.Exists("pay:lock:tx:uc-1"), "non-holder must not release")

	require.NoError(t, a.Unlock(ctx))
	assert.False(t, mr.Exists("pay:lock:tx:uc-1"))

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_ExpiresAfterTTL(t *testing.T) {
	mr, locker := newRedisLocker(t)
	ctx := context.Background()

	ok, err := locker.NewLock(SweepLeaseKey, "a", time.Second).TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = locker.NewLock(SweepLeaseKey, "b", time.Second).TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_RetriesUntilFailure(t *testing.T) {
	_, locker := newRedisLocker(t)
	ctx := context.Background()

	require.NoError(t, locker.NewLock("k", "a", time.Minute).Lock(ctx, time.Millisecond, 3))
	err := locker.NewLock("k", "b", time.Minute).Lock(ctx, time.Millisecond, 3)
	assert.ErrorIs(t, err, ErrLockFailed)
}

func TestLock_StopsOnContextCancel(t *testing.T) {
	locker := NewLocalLocker()
	ctx, cancel := context.WithCancel(context.Background())

	ok, err := locker.NewLock("k", "a", time.Minute).TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	cancel()
	err = locker.NewLock("k", "b", time.Minute).Lock(ctx, time.Second, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalLocker(t *testing.T) {
	locker := NewLocalLocker()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }
	ctx := context.Background()

	a := locker.NewLock("k", "a", time.Minute)
	b := locker.NewLock("k", "b", time.Minute)

	ok, _ := a.TryLock(ctx)
	assert.True(t, ok)
	ok, _ = b.TryLock(ctx)
	assert.False(t, ok)

	require.NoError(t, b.Unlock(ctx))
	ok, _ = b.TryLock(ctx)
	assert.False(t, ok, "non-holder unlock is a no-op")

	now = now.Add(2 * time.Minute)
	ok, _ = b.TryLock(ctx)
	assert.True(t, ok, "expired lock can be taken")

	require.NoError(t, a.Unlock(ctx))
	ok, _ = a.TryLock(ctx)
	assert.False(t, ok, "stale holder cannot release the new owner")
}
