package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/redisclient"
	"order-fulfillment/internal/store/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeLocker is an in-process Locker with one slot per resource
type fakeLocker struct {
	mu       sync.Mutex
	slots    map[string]chan struct{}
	holders  map[string]string
	seq      int
	acquires atomic.Int64
	failWith error
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{
		slots:   make(map[string]chan struct{}),
		holders: make(map[string]string),
	}
}

func (l *fakeLocker) slot(resource string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[resource]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[resource] = ch
	}
	return ch
}

func (l *fakeLocker) Acquire(ctx context.Context, resource string, ttl time.Duration) (string, error) {
	l.acquires.Add(1)
	if l.failWith != nil {
		return "", l.failWith
	}

	select {
	case l.slot(resource) <- struct{}{}:
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", models.ErrLockUnavailable, ctx.Err())
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	token := fmt.Sprintf("token-%d", l.seq)
	l.holders[resource] = token
	return token, nil
}

func (l *fakeLocker) Release(ctx context.Context, resource, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holders[resource] != token {
		return false, nil
	}
	delete(l.holders, resource)
	<-l.slots[resource]
	return true, nil
}

func (l *fakeLocker) held(resource string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.holders[resource]
	return ok
}

type mockAlerter struct {
	mock.Mock
}

func (m *mockAlerter) Alert(ctx context.Context, channel, message string) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) GetPaidInfo(ctx context.Context, mid, tid string) (*models.PaidInfo, error) {
	args := m.Called(ctx, mid, tid)
	if info, ok := args.Get(0).(*models.PaidInfo); ok {
		return info, args.Error(1)
	}
	return nil, args.Error(1)
}

// fixture wires the services over one memory store
type fixture struct {
	store     *memory.Store
	locker    *fakeLocker
	alerter   *mockAlerter
	publisher *mockPublisher
	gateway   *mockGateway
	inventory *InventoryService
	orders    *OrderService
	sales     *SalesService
	listener  *SalesListener
	payments  *PaymentService
	sleeps    []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:     memory.NewStore(),
		locker:    newFakeLocker(),
		alerter:   &mockAlerter{},
		publisher: &mockPublisher{},
		gateway:   &mockGateway{},
	}
	f.inventory = NewInventoryService(f.store, f.locker, time.Second)
	f.orders = NewOrderService(f.store, f.store, f.inventory, f.publisher, f.alerter)
	f.sales = NewSalesService(f.store, f.store, time.UTC)
	f.listener = NewSalesListener(f.sales, f.store, f.alerter, 3, time.Second)
	f.listener.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	f.payments = NewPaymentService(f.store, f.store, f.store, f.listener, f.gateway, f.alerter)

	t.Cleanup(func() {
		f.alerter.AssertExpectations(t)
		f.publisher.AssertExpectations(t)
		f.gateway.AssertExpectations(t)
	})
	return f
}

// redisLocks starts a miniredis-backed lock manager
func redisLocks(t *testing.T) (*redisclient.Client, *redisclient.LockManager, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	client := redisclient.NewFromRedis(rdb)
	locks := redisclient.NewLockManager(client)
	t.Cleanup(func() { _ = locks.Close() })
	return client, locks, mr
}

func (f *fixture) seedOption(t *testing.T, price int64, stock int) *models.ProductOption {
	t.Helper()
	ctx := context.Background()

	product := &models.Product{Name: "Coffee Beans"}
	require.NoError(t, f.store.CreateProduct(ctx, nil, product))
	option := &models.ProductOption{ProductID: product.ID, Name: "1kg", Price: price, Stock: stock}
	require.NoError(t, f.store.CreateOption(ctx, nil, option))
	return option
}

func (f *fixture) seedUser(t *testing.T, balance int64) *models.User {
	t.Helper()
	user := &models.User{Balance: balance}
	require.NoError(t, f.store.CreateUser(context.Background(), nil, user))
	return user
}

func (f *fixture) stock(t *testing.T, optionID int64) int {
	t.Helper()
	option, err := f.store.GetOption(context.Background(), nil, optionID)
	require.NoError(t, err)
	return option.Stock
}

// placeOrder creates an order and accepts its OrderCreated event
func (f *fixture) placeOrder(t *testing.T, userID int64, items ...models.LineItem) *models.OrderResult {
	t.Helper()
	f.publisher.On("PublishOrderCreated", mock.Anything, mock.AnythingOfType("*models.OrderCreatedEvent")).
		Return(nil).Once()

	result, err := f.orders.CreateOrder(context.Background(), &CreateOrderRequest{UserID: userID, Items: items})
	require.NoError(t, err)
	return result
}
