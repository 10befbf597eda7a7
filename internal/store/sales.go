package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/txn"
)

// FindDailySalesForUpdate returns the row for (product, option, day), or nil
// when there were no sales yet that day.
func (s *Store) FindDailySalesForUpdate(ctx context.Context, tx txn.Tx, productID, optionID int64, day time.Time) (*models.DailyPopularProduct, error) {
	var row models.DailyPopularProduct
	err := s.get(ctx, tx, &row, `
		SELECT id, product_id, product_option_id, sold_date, total_sold
		FROM daily_popular_products
		WHERE product_id = $1 AND product_option_id = $2 AND sold_date = $3
		FOR UPDATE`,
		productID, optionID, day)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("find daily sales", err)
	}
	return &row, nil
}

// CreateDailySales inserts the first row of the day. A row inserted
// concurrently by another transaction is accumulated into instead.
func (s *Store) CreateDailySales(ctx context.Context, tx txn.Tx, row *models.DailyPopularProduct) error {
	err := s.get(ctx, tx, row, `
		INSERT INTO daily_popular_products (product_id, product_option_id, sold_date, total_sold)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id, product_option_id, sold_date)
		DO UPDATE SET total_sold = daily_popular_products.total_sold + EXCLUDED.total_sold
		RETURNING id, total_sold`,
		row.ProductID, row.ProductOptionID, row.SoldDate, row.TotalSold)
	if err != nil {
		return dbError("create daily sales", err)
	}
	return nil
}

// IncreaseDailySales adds quantity to an existing row and returns the new total
func (s *Store) IncreaseDailySales(ctx context.Context, tx txn.Tx, id int64, quantity int64) (int64, error) {
	var total int64
	err := s.get(ctx, tx, &total,
		"UPDATE daily_popular_products SET total_sold = total_sold + $1 WHERE id = $2 RETURNING total_sold",
		quantity, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, models.NewNotFoundError("daily sales", id, models.ErrProductNotFound)
	}
	if err != nil {
		return 0, dbError("increase daily sales", err)
	}
	return total, nil
}

// ListDailySales returns the day's rows ordered by units sold
func (s *Store) ListDailySales(ctx context.Context, tx txn.Tx, day time.Time) ([]models.DailyPopularProduct, error) {
	rows := []models.DailyPopularProduct{}
	err := s.selectx(ctx, tx, &rows, `
		SELECT id, product_id, product_option_id, sold_date, total_sold
		FROM daily_popular_products
		WHERE sold_date = $1
		ORDER BY total_sold DESC, id`, day)
	if err != nil {
		return nil, dbError("list daily sales", err)
	}
	return rows, nil
}
