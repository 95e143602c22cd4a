package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisLocker starts a miniredis server and a locker bound to it
func setupRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	opts := DefaultRedisOptions()
	opts.RetryDelay = 10 * time.Millisecond

	l, err := NewRedisLocker(client, opts, nil)
	require.NoError(t, err)
	return l, mr
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	l, mr := setupRedisLocker(t)
	ctx := context.Background()

	h, err := l.Acquire(ctx, "1000000000", time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("account-lock:1000000000"))

	require.NoError(t, h.Release(ctx))
	assert.False(t, mr.Exists("account-lock:1000000000"))
	assert.ErrorIs(t, h.Release(ctx), ErrAlreadyReleased)
}

func TestRedisLocker_TimeoutWhileHeld(t *testing.T) {
	l, _ := setupRedisLocker(t)
	ctx := context.Background()

	h, err := l.Acquire(ctx, "1000000000", time.Second)
	require.NoError(t, err)
	defer h.Release(ctx)

	_, err = l.Acquire(ctx, "1000000000", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRedisLocker_DistinctKeys(t *testing.T) {
	l, _ := setupRedisLocker(t)
	ctx := context.Background()

	h1, err := l.Acquire(ctx, "1000000000", time.Second)
	require.NoError(t, err)
	defer h1.Release(ctx)

	h2, err := l.Acquire(ctx, "1000000001", 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, h2.Release(ctx))
}

func TestRedisLocker_WaitsForRelease(t *testing.T) {
	l, _ := setupRedisLocker(t)
	ctx := context.Background()

	h, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = h.Release(ctx)
	}()

	h2, err := l.Acquire(ctx, "k", 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, h2.Release(ctx))
}

func TestRedisLocker_SerializesWithLock(t *testing.T) {
	l, _ := setupRedisLocker(t)
	ctx := context.Background()

	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		holders int
		maxSeen int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := WithLock(ctx, l, "shared", 5*time.Second, func(context.Context) error {
				mu.Lock()
				holders++
				if holders > maxSeen {
					maxSeen = holders
				}
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				holders--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
}

func TestRedisLocker_ExpiredLockReportsNotHeld(t *testing.T) {
	l, mr := setupRedisLocker(t)
	ctx := context.Background()

	h, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(20 * time.Second)

	assert.Error(t, h.Release(ctx))
}

func TestNewRedisLocker_Validation(t *testing.T) {
	_, err := NewRedisLocker(nil, DefaultRedisOptions(), nil)
	assert.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()
	_, err = NewRedisLocker(client, RedisOptions{}, nil)
	assert.Error(t, err)
}
