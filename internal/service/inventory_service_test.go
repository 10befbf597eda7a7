package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/txn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecreaseReducesStock(t *testing.T) {
	f := newFixture(t)
	option := f.seedOption(t, 1000, 10)

	updated, err := f.inventory.Decrease(context.Background(), txn.New(), option.ID, 3)
	require.NoError(t, err)

	assert.Equal(t, 7, updated.Stock)
	assert.Equal(t, "Coffee Beans", updated.ProductName)
	assert.Equal(t, 7, f.stock(t, option.ID))
	assert.False(t, f.locker.held(optionLockKey(option.ID)))
}

func TestDecreaseInsufficientStock(t *testing.T) {
	f := newFixture(t)
	option := f.seedOption(t, 1000, 2)

	_, err := f.inventory.Decrease(context.Background(), txn.New(), option.ID, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	var stockErr *models.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 2, stockErr.Available)

	assert.Equal(t, 2, f.stock(t, option.ID))
	assert.False(t, f.locker.held(optionLockKey(option.ID)))
}

func TestDecreaseRejectsNonPositiveQuantity(t *testing.T) {
	f := newFixture(t)
	option := f.seedOption(t, 1000, 10)

	for _, quantity := range []int{0, -1} {
		_, err := f.inventory.Decrease(context.Background(), txn.New(), option.ID, quantity)
		assert.ErrorIs(t, err, models.ErrInvalidQuantity)

		_, err = f.inventory.Restore(context.Background(), txn.New(), option.ID, quantity)
		assert.ErrorIs(t, err, models.ErrInvalidQuantity)
	}

	assert.Equal(t, int64(0), f.locker.acquires.Load())
	assert.Equal(t, 10, f.stock(t, option.ID))
}

func TestDecreaseUnknownOption(t *testing.T) {
	f := newFixture(t)

	_, err := f.inventory.Decrease(context.Background(), txn.New(), 404, 1)
	assert.ErrorIs(t, err, models.ErrProductOptionNotFound)
	assert.False(t, f.locker.held(optionLockKey(404)))
}

func TestDecreaseLockUnavailable(t *testing.T) {
	f := newFixture(t)
	option := f.seedOption(t, 1000, 10)
	f.locker.failWith = models.ErrLockUnavailable

	_, err := f.inventory.Decrease(context.Background(), txn.New(), option.ID, 1)
	assert.ErrorIs(t, err, models.ErrLockUnavailable)
	assert.Equal(t, 10, f.stock(t, option.ID))
}

func TestDecreaseJoinedRollsBackWithCaller(t *testing.T) {
	f := newFixture(t)
	option := f.seedOption(t, 1000, 10)
	ctx := context.Background()

	err := txn.Run(ctx, f.store, txn.New(), func(ctx context.Context, tx txn.Tx) error {
		updated, err := f.inventory.Decrease(ctx, txn.Join(tx), option.ID, 4)
		require.NoError(t, err)
		assert.Equal(t, 6, updated.Stock)
		return errors.New("caller failed")
	})
	require.Error(t, err)

	assert.Equal(t, 10, f.stock(t, option.ID))
}

func TestRestoreAddsStock(t *testing.T) {
	f := newFixture(t)
	option := f.seedOption(t, 1000, 10)
	ctx := context.Background()

	_, err := f.inventory.Decrease(ctx, txn.New(), option.ID, 3)
	require.NoError(t, err)

	restored, err := f.inventory.Restore(ctx, txn.New(), option.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 10, restored.Stock)
	assert.Equal(t, 10, f.stock(t, option.ID))
}

func TestConcurrentDecreaseNeverOversells(t *testing.T) {
	f := newFixture(t)
	option := f.seedOption(t, 1000, 100)

	var wg sync.WaitGroup
	var succeeded, rejected atomic.Int64
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.inventory.Decrease(context.Background(), txn.New(), option.ID, 1)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, models.ErrInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), succeeded.Load())
	assert.Equal(t, int64(900), rejected.Load())
	assert.Equal(t, 0, f.stock(t, option.ID))
}

func TestConcurrentDecreaseWithRedisLock(t *testing.T) {
	f := newFixture(t)
	option := f.seedOption(t, 1000, 10)

	_, locks, mr := redisLocks(t)
	inventory := NewInventoryService(f.store, locks, 2*time.Second)

	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := inventory.Decrease(context.Background(), txn.New(), option.ID, 1); err == nil {
				succeeded.Add(1)
			} else {
				assert.ErrorIs(t, err, models.ErrInsufficientStock)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), succeeded.Load())
	assert.Equal(t, 0, f.stock(t, option.ID))
	assert.False(t, mr.Exists("lock:"+optionLockKey(option.ID)))
}

func TestDecreaseDrainsStockWithRedisLock(t *testing.T) {
	f := newFixture(t)
	option := f.seedOption(t, 1000, 1000)
	_, locks, mr := redisLocks(t)
	inventory := NewInventoryService(f.store, locks, 5*time.Second)

	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := inventory.Decrease(context.Background(), txn.New(), option.ID, 1)
			if assert.NoError(t, err) {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1000), succeeded.Load())
	assert.Equal(t, 0, f.stock(t, option.ID))
	assert.False(t, mr.Exists("lock:"+optionLockKey(option.ID)))
}

func TestConcurrentDecreaseAndRestoreConserveStock(t *testing.T) {
	const initial, rounds = 300, 300

	f := newFixture(t)
	option := f.seedOption(t, 1000, initial)
	_, locks, _ := redisLocks(t)
	inventory := NewInventoryService(f.store, locks, 5*time.Second)

	var wg sync.WaitGroup
	var decreased, restored atomic.Int64
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			updated, err := inventory.Decrease(context.Background(), txn.New(), option.ID, 1)
			if assert.NoError(t, err) {
				assert.GreaterOrEqual(t, updated.Stock, 0)
				decreased.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := inventory.Restore(context.Background(), txn.New(), option.ID, 1); assert.NoError(t, err) {
				restored.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(rounds), decreased.Load())
	assert.Equal(t, int64(rounds), restored.Load())
	assert.Equal(t, initial-int(decreased.Load())+int(restored.Load()), f.stock(t, option.ID))
}
