package redisclient

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"order-fulfillment/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*LockManager, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	m := NewLockManager(NewFromRedis(rdb))
	t.Cleanup(func() { _ = m.Close() })
	return m, mr
}

func TestAcquireAndRelease(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	token, err := m.Acquire(ctx, "product_option:1", time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	stored, err := mr.Get("lock:product_option:1")
	require.NoError(t, err)
	assert.Equal(t, token, stored)
	assert.True(t, mr.TTL("lock:product_option:1") > 0)

	released, err := m.Release(ctx, "product_option:1", token)
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists("lock:product_option:1"))
}

func TestTokensAreUnique(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Acquire(ctx, "a", time.Second)
	require.NoError(t, err)
	second, err := m.Acquire(ctx, "b", time.Second)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestReleaseWithForeignToken(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	token, err := m.Acquire(ctx, "product_option:1", time.Second)
	require.NoError(t, err)

	released, err := m.Release(ctx, "product_option:1", "someone-else")
	require.NoError(t, err)
	assert.False(t, released)

	// the real holder keeps the lock
	stored, err := mr.Get("lock:product_option:1")
	require.NoError(t, err)
	assert.Equal(t, token, stored)
}

func TestReleaseAfterExpiry(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	token, err := m.Acquire(ctx, "product_option:1", 100*time.Millisecond)
	require.NoError(t, err)

	mr.FastForward(200 * time.Millisecond)

	released, err := m.Release(ctx, "product_option:1", token)
	require.NoError(t, err)
	assert.False(t, released)
}

func TestWaiterResumesOnRelease(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	token, err := m.Acquire(ctx, "product_option:7", 10*time.Second)
	require.NoError(t, err)

	acquired := make(chan string, 1)
	go func() {
		next, err := m.Acquire(ctx, "product_option:7", 10*time.Second)
		if err == nil {
			acquired <- next
		}
	}()

	require.Eventually(t, func() bool {
		return m.waiterCount("product_option:7") == 1
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case <-acquired:
		t.Fatal("waiter acquired a held lock")
	case <-time.After(50 * time.Millisecond):
	}

	released, err := m.Release(ctx, "product_option:7", token)
	require.NoError(t, err)
	require.True(t, released)

	select {
	case next := <-acquired:
		assert.NotEqual(t, token, next)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not resumed by the release notification")
	}

	assert.Equal(t, 0, m.waiterCount("product_option:7"))
}

func TestReleaseResumesOneWaiterAtATime(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	const resource = "product_option:8"

	token, err := m.Acquire(ctx, resource, 10*time.Second)
	require.NoError(t, err)

	tokens := make(chan string, 3)
	for i := 0; i < 3; i++ {
		go func() {
			next, err := m.Acquire(ctx, resource, 10*time.Second)
			if err == nil {
				tokens <- next
			}
		}()
	}
	require.Eventually(t, func() bool {
		return m.waiterCount(resource) == 3
	}, 2*time.Second, 5*time.Millisecond)

	for remaining := 2; remaining >= 0; remaining-- {
		released, err := m.Release(ctx, resource, token)
		require.NoError(t, err)
		require.True(t, released)

		select {
		case token = <-tokens:
		case <-time.After(2 * time.Second):
			t.Fatal("no waiter was resumed")
		}
		assert.Equal(t, remaining, m.waiterCount(resource))

		select {
		case <-tokens:
			t.Fatal("one release resumed two waiters")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestWaiterWakesAfterHolderExpires(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	// holder never releases
	_, err := m.Acquire(ctx, "product_option:3", 150*time.Millisecond)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.Acquire(ctx, "product_option:3", 150*time.Millisecond)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return m.waiterCount("product_option:3") == 1
	}, 2*time.Second, 5*time.Millisecond)
	mr.FastForward(200 * time.Millisecond)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter stayed parked after the holder expired")
	}
}

func TestMutualExclusion(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	const contenders = 20
	var inside, maxInside, total int32
	var wg sync.WaitGroup

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			token, err := m.Acquire(ctx, "product_option:42", 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}

			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&total, 1)
			atomic.AddInt32(&inside, -1)

			released, err := m.Release(ctx, "product_option:42", token)
			assert.NoError(t, err)
			assert.True(t, released)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, int32(contenders), total)
	assert.Equal(t, 0, m.waiterCount("product_option:42"))
}

func TestAcquireHonoursCancellation(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Acquire(context.Background(), "product_option:9", 10*time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = m.Acquire(ctx, "product_option:9", 10*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrLockUnavailable)
	assert.Equal(t, 0, m.waiterCount("product_option:9"))
}

func TestCloseWakesWaiters(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "product_option:5", 10*time.Second)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.Acquire(ctx, "product_option:5", 10*time.Second)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return m.waiterCount("product_option:5") == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, models.ErrLockUnavailable)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by Close")
	}
}

func TestAcquireWithRedisDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer rdb.Close()
	m := NewLockManager(NewFromRedis(rdb))
	defer m.Close()

	_, err := m.Acquire(context.Background(), "product_option:1", time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInfrastructure)
}
