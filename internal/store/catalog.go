package store

import (
	"context"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/txn"
)

// CreateProduct inserts a catalog product
func (s *Store) CreateProduct(ctx context.Context, tx txn.Tx, product *models.Product) error {
	err := s.get(ctx, tx, product,
		"INSERT INTO products (name) VALUES ($1) RETURNING id, created_at", product.Name)
	if err != nil {
		return dbError("create product", err)
	}
	return nil
}

// CreateOption inserts a purchasable option of a product
func (s *Store) CreateOption(ctx context.Context, tx txn.Tx, option *models.ProductOption) error {
	err := s.get(ctx, tx, option, `
		INSERT INTO product_options (product_id, name, price, stock)
		VALUES ($1, $2, $3, $4)
		RETURNING id, updated_at`,
		option.ProductID, option.Name, option.Price, option.Stock)
	if err != nil {
		return dbError("create product option", err)
	}
	return nil
}

// CreateUser inserts a user with an opening balance
func (s *Store) CreateUser(ctx context.Context, tx txn.Tx, user *models.User) error {
	err := s.get(ctx, tx, user,
		"INSERT INTO users (balance) VALUES ($1) RETURNING id, updated_at", user.Balance)
	if err != nil {
		return dbError("create user", err)
	}
	return nil
}
