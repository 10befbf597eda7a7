package store

import (
	"context"
	"database/sql"
	"errors"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/txn"
)

const paymentColumns = `id, order_id, status, amount, created_at, updated_at, deleted_at`

// CreatePayment creates a new payment record
func (s *Store) CreatePayment(ctx context.Context, tx txn.Tx, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, status, amount)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`

	if err := s.get(ctx, tx, payment, query, payment.OrderID, payment.Status, payment.Amount); err != nil {
		return dbError("create payment", err)
	}
	return nil
}

// GetPayment retrieves a payment by ID
func (s *Store) GetPayment(ctx context.Context, tx txn.Tx, id int64) (*models.Payment, error) {
	return s.getPayment(ctx, tx, id, "")
}

// GetPaymentForUpdate retrieves a payment and row-locks it until tx ends
func (s *Store) GetPaymentForUpdate(ctx context.Context, tx txn.Tx, id int64) (*models.Payment, error) {
	return s.getPayment(ctx, tx, id, " FOR UPDATE")
}

func (s *Store) getPayment(ctx context.Context, tx txn.Tx, id int64, suffix string) (*models.Payment, error) {
	var payment models.Payment
	err := s.get(ctx, tx, &payment,
		"SELECT "+paymentColumns+" FROM payments WHERE id = $1 AND deleted_at IS NULL"+suffix, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("payment", id, models.ErrPaymentNotFound)
	}
	if err != nil {
		return nil, dbError("get payment", err)
	}
	return &payment, nil
}

// GetPaymentByOrderID retrieves the latest payment for an order
func (s *Store) GetPaymentByOrderID(ctx context.Context, tx txn.Tx, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.get(ctx, tx, &payment,
		"SELECT "+paymentColumns+` FROM payments
		WHERE order_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC LIMIT 1`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("payment for order", orderID, models.ErrPaymentNotFound)
	}
	if err != nil {
		return nil, dbError("get payment by order", err)
	}
	return &payment, nil
}

// UpdatePaymentStatus updates payment status
func (s *Store) UpdatePaymentStatus(ctx context.Context, tx txn.Tx, paymentID int64, status models.PaymentStatus) error {
	res, err := s.exec(ctx, tx,
		"UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2 AND deleted_at IS NULL",
		status, paymentID)
	if err != nil {
		return dbError("update payment status", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.NewNotFoundError("payment", paymentID, models.ErrPaymentNotFound)
	}
	return nil
}
