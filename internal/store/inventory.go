package store

import (
	"context"
	"database/sql"
	"errors"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/txn"
)

const selectOption = `
	SELECT po.id, po.product_id, p.name AS product_name, po.name, po.price, po.stock,
	       po.updated_at, po.deleted_at
	FROM product_options po
	JOIN products p ON p.id = po.product_id
	WHERE po.id = $1 AND po.deleted_at IS NULL`

// GetOption retrieves a product option with its product name
func (s *Store) GetOption(ctx context.Context, tx txn.Tx, id int64) (*models.ProductOption, error) {
	var option models.ProductOption
	err := s.get(ctx, tx, &option, selectOption, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("product option", id, models.ErrProductOptionNotFound)
	}
	if err != nil {
		return nil, dbError("get product option", err)
	}
	return &option, nil
}

// GetOptionForUpdate retrieves a product option and row-locks it until tx ends
func (s *Store) GetOptionForUpdate(ctx context.Context, tx txn.Tx, id int64) (*models.ProductOption, error) {
	var option models.ProductOption
	err := s.get(ctx, tx, &option, selectOption+" FOR UPDATE OF po", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("product option", id, models.ErrProductOptionNotFound)
	}
	if err != nil {
		return nil, dbError("lock product option", err)
	}
	return &option, nil
}

// DecrementStock subtracts quantity and returns the new stock. The update is
// guarded so stock never goes below zero even without a prior row lock.
func (s *Store) DecrementStock(ctx context.Context, tx txn.Tx, id int64, quantity int) (int, error) {
	var stock int
	err := s.get(ctx, tx, &stock, `
		UPDATE product_options
		SET stock = stock - $1, updated_at = NOW()
		WHERE id = $2 AND deleted_at IS NULL AND stock >= $1
		RETURNING stock`,
		quantity, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &models.InsufficientStockError{OptionID: id, Requested: quantity}
	}
	if err != nil {
		return 0, dbError("decrement stock", err)
	}
	return stock, nil
}

// IncrementStock adds quantity back and returns the new stock
func (s *Store) IncrementStock(ctx context.Context, tx txn.Tx, id int64, quantity int) (int, error) {
	var stock int
	err := s.get(ctx, tx, &stock, `
		UPDATE product_options
		SET stock = stock + $1, updated_at = NOW()
		WHERE id = $2 AND deleted_at IS NULL
		RETURNING stock`,
		quantity, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, models.NewNotFoundError("product option", id, models.ErrProductOptionNotFound)
	}
	if err != nil {
		return 0, dbError("increment stock", err)
	}
	return stock, nil
}
