package store

import (
	"context"
	"database/sql"
	"errors"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/txn"
)

const orderColumns = `id, user_id, status, total_price, created_at, updated_at, deleted_at`

// CreateOrder creates a new order
func (s *Store) CreateOrder(ctx context.Context, tx txn.Tx, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, status, total_price)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`

	if err := s.get(ctx, tx, order, query, order.UserID, order.Status, order.TotalPrice); err != nil {
		return dbError("create order", err)
	}
	return nil
}

// GetOrder retrieves an order by ID
func (s *Store) GetOrder(ctx context.Context, tx txn.Tx, id int64) (*models.Order, error) {
	return s.getOrder(ctx, tx, id, "")
}

// GetOrderForUpdate retrieves an order and row-locks it until tx ends
func (s *Store) GetOrderForUpdate(ctx context.Context, tx txn.Tx, id int64) (*models.Order, error) {
	return s.getOrder(ctx, tx, id, " FOR UPDATE")
}

func (s *Store) getOrder(ctx context.Context, tx txn.Tx, id int64, suffix string) (*models.Order, error) {
	var order models.Order
	err := s.get(ctx, tx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 AND deleted_at IS NULL"+suffix, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("order", id, models.ErrOrderNotFound)
	}
	if err != nil {
		return nil, dbError("get order", err)
	}
	return &order, nil
}

// UpdateOrderStatus updates order status
func (s *Store) UpdateOrderStatus(ctx context.Context, tx txn.Tx, orderID int64, status models.OrderStatus) error {
	res, err := s.exec(ctx, tx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND deleted_at IS NULL",
		status, orderID)
	if err != nil {
		return dbError("update order status", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.NewNotFoundError("order", orderID, models.ErrOrderNotFound)
	}
	return nil
}

// CreateOrderItems inserts the snapshot rows of an order and fills in their IDs
func (s *Store) CreateOrderItems(ctx context.Context, tx txn.Tx, items []models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_option_id, product_name, quantity, total_price_at_order)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	for i := range items {
		item := &items[i]
		err := s.get(ctx, tx, &item.ID, query,
			item.OrderID, item.ProductOptionID, item.ProductName, item.Quantity, item.TotalPriceAtOrder)
		if err != nil {
			return dbError("create order item", err)
		}
	}
	return nil
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, tx txn.Tx, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := s.selectx(ctx, tx, &items, `
		SELECT id, order_id, product_option_id, product_name, quantity, total_price_at_order
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, dbError("get order items", err)
	}
	return items, nil
}
