package service

import (
	"context"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/txn"
)

// Store methods take the transaction to run in; a nil tx means autocommit.

// InventoryStore persists product option stock
type InventoryStore interface {
	txn.Beginner
	GetOption(ctx context.Context, tx txn.Tx, id int64) (*models.ProductOption, error)
	GetOptionForUpdate(ctx context.Context, tx txn.Tx, id int64) (*models.ProductOption, error)
	DecrementStock(ctx context.Context, tx txn.Tx, id int64, quantity int) (int, error)
	IncrementStock(ctx context.Context, tx txn.Tx, id int64, quantity int) (int, error)
}

// OrderStore persists orders and their item snapshots
type OrderStore interface {
	txn.Beginner
	CreateOrder(ctx context.Context, tx txn.Tx, order *models.Order) error
	GetOrder(ctx context.Context, tx txn.Tx, id int64) (*models.Order, error)
	GetOrderForUpdate(ctx context.Context, tx txn.Tx, id int64) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, tx txn.Tx, orderID int64, status models.OrderStatus) error
	CreateOrderItems(ctx context.Context, tx txn.Tx, items []models.OrderItem) error
	GetOrderItems(ctx context.Context, tx txn.Tx, orderID int64) ([]models.OrderItem, error)
}

// PaymentStore persists payments
type PaymentStore interface {
	txn.Beginner
	CreatePayment(ctx context.Context, tx txn.Tx, payment *models.Payment) error
	GetPayment(ctx context.Context, tx txn.Tx, id int64) (*models.Payment, error)
	GetPaymentForUpdate(ctx context.Context, tx txn.Tx, id int64) (*models.Payment, error)
	GetPaymentByOrderID(ctx context.Context, tx txn.Tx, orderID int64) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, tx txn.Tx, paymentID int64, status models.PaymentStatus) error
}

// BalanceStore debits user balances
type BalanceStore interface {
	DebitBalance(ctx context.Context, tx txn.Tx, userID, amount int64) (int64, error)
}

// SalesStore persists daily per-option sales counters
type SalesStore interface {
	txn.Beginner
	FindDailySalesForUpdate(ctx context.Context, tx txn.Tx, productID, optionID int64, day time.Time) (*models.DailyPopularProduct, error)
	CreateDailySales(ctx context.Context, tx txn.Tx, row *models.DailyPopularProduct) error
	IncreaseDailySales(ctx context.Context, tx txn.Tx, id int64, quantity int64) (int64, error)
}

// Locker is a distributed mutual-exclusion lock keyed by resource name
type Locker interface {
	Acquire(ctx context.Context, resource string, ttl time.Duration) (string, error)
	Release(ctx context.Context, resource, token string) (bool, error)
}

// EventPublisher publishes domain events after their transaction commits
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
}

// PaymentGateway is the external source of truth for paid amounts
type PaymentGateway interface {
	GetPaidInfo(ctx context.Context, mid, tid string) (*models.PaidInfo, error)
}

// Alerter delivers operator alerts on a named channel
type Alerter interface {
	Alert(ctx context.Context, channel, message string) error
}

// CancellationScheduler defers the cancellation of an unpaid order
type CancellationScheduler interface {
	Schedule(ctx context.Context, orderID int64) error
}
