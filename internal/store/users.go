package store

import (
	"context"
	"database/sql"
	"errors"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/txn"
)

// DebitBalance row-locks the user, checks the balance covers amount and
// subtracts it. It returns the remaining balance.
func (s *Store) DebitBalance(ctx context.Context, tx txn.Tx, userID, amount int64) (int64, error) {
	var balance int64
	err := s.get(ctx, tx, &balance, "SELECT balance FROM users WHERE id = $1 FOR UPDATE", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, models.NewNotFoundError("user", userID, models.ErrUserNotFound)
	}
	if err != nil {
		return 0, dbError("lock user balance", err)
	}

	if balance < amount {
		return 0, &models.InsufficientBalanceError{UserID: userID, Required: amount, Available: balance}
	}

	err = s.get(ctx, tx, &balance,
		"UPDATE users SET balance = balance - $1, updated_at = NOW() WHERE id = $2 RETURNING balance",
		amount, userID)
	if err != nil {
		return 0, dbError("debit balance", err)
	}
	return balance, nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, tx txn.Tx, id int64) (*models.User, error) {
	var user models.User
	err := s.get(ctx, tx, &user, "SELECT id, balance, updated_at FROM users WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("user", id, models.ErrUserNotFound)
	}
	if err != nil {
		return nil, dbError("get user", err)
	}
	return &user, nil
}
