package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutex_TryLockExclusive(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	a := NewMutex(client, "request:1", nil, WithLockTTL(time.Minute))
	b := NewMutex(client, "request:1", nil, WithLockTTL(time.Minute))

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, b.Unlock(ctx), ErrLockNotHeld)
	require.NoError(t, a.Unlock(ctx))

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMutex_LockRetriesThenFails(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	holder := NewMutex(client, "busy", nil)
	require.NoError(t, holder.Lock(ctx))

	waiter := NewMutex(client, "busy", nil, WithRetry(3, time.Millisecond))
	assert.ErrorIs(t, waiter.Lock(ctx), ErrLockNotAcquired)
}

func TestMutex_ExpiresAndExtends(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()

	m := NewMutex(client, "ttl", nil, WithLockTTL(10*time.Second))
	require.NoError(t, m.Lock(ctx))
	assert.Equal(t, "lexner:lock:ttl", m.Key())

	ok, err := m.Extend(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ttl, err := m.TTL(ctx)
	require.NoError(t, err)
	assert.Greater(t, ttl, 30*time.Second)

	mr.FastForward(2 * time.Minute)
	ok, err = m.Extend(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, m.Unlock(ctx), ErrLockNotHeld)
}

func TestMutex_WatchdogStopsOnUnlock(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	m := NewMutex(client, "wd", nil, WithLockTTL(time.Second), WithWatchdog(10*time.Millisecond))
	require.NoError(t, m.Lock(ctx))
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, m.Unlock(ctx))

	ok, err := NewMutex(client, "wd", nil).TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
