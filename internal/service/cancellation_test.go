package service

import (
	"context"
	"testing"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCancellationScheduler(t *testing.T, f *fixture) *scheduler.Scheduler {
	t.Helper()
	client, _, _ := redisLocks(t)
	cancellations := scheduler.NewScheduler(client, f.orders.CancelOrder, f.alerter, time.Hour, 10*time.Millisecond)
	require.NoError(t, cancellations.SetDelay(time.Millisecond))
	return cancellations
}

// runDue polls until the scheduler has processed want orders
func runDue(t *testing.T, s *scheduler.Scheduler, want int) {
	t.Helper()
	processed := 0
	require.Eventually(t, func() bool {
		n, err := s.RunDue(context.Background())
		if !assert.NoError(t, err) {
			return false
		}
		processed += n
		return processed >= want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScheduledCancellationRestoresUnpaidOrder(t *testing.T) {
	f := newFixture(t)
	option := f.seedOption(t, 1000, 10)
	cancellations := newCancellationScheduler(t, f)
	ctx := context.Background()

	result := f.placeOrder(t, 1, models.LineItem{ProductOptionID: option.ID, Quantity: 2})
	assert.Equal(t, 8, f.stock(t, option.ID))

	require.NoError(t, cancellations.Schedule(ctx, result.Order.ID))
	runDue(t, cancellations, 1)

	order, err := f.store.GetOrder(ctx, nil, result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	assert.Equal(t, 10, f.stock(t, option.ID))

	pending, err := cancellations.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestScheduledCancellationLeavesPaidOrder(t *testing.T) {
	f := newFixture(t)
	option := f.seedOption(t, 1000, 10)
	cancellations := newCancellationScheduler(t, f)
	ctx := context.Background()

	result := f.placeOrder(t, 1, models.LineItem{ProductOptionID: option.ID, Quantity: 2})
	require.NoError(t, f.store.UpdateOrderStatus(ctx, nil, result.Order.ID, models.OrderStatusPaid))

	require.NoError(t, cancellations.Schedule(ctx, result.Order.ID))
	runDue(t, cancellations, 1)

	order, err := f.store.GetOrder(ctx, nil, result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Equal(t, 8, f.stock(t, option.ID))
}
