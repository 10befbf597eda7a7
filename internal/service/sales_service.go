package service

import (
	"context"
	"fmt"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/txn"
	"order-fulfillment/internal/util"

	"go.uber.org/zap"
)

// OptionReader resolves product options
type OptionReader interface {
	GetOption(ctx context.Context, tx txn.Tx, id int64) (*models.ProductOption, error)
}

// SalesService keeps the per-day, per-option units sold counters
type SalesService struct {
	sales   SalesStore
	options OptionReader
	loc     *time.Location
	now     func() time.Time
	logger  *zap.Logger
}

// NewSalesService creates a sales service that buckets days in loc
func NewSalesService(sales SalesStore, options OptionReader, loc *time.Location) *SalesService {
	if loc == nil {
		loc = time.UTC
	}
	return &SalesService{
		sales:   sales,
		options: options,
		loc:     loc,
		now:     time.Now,
		logger:  util.GetLogger(),
	}
}

// Accumulate adds each item's quantity to today's counter for its option.
// Repeated calls add up; they never replace the counter.
func (s *SalesService) Accumulate(ctx context.Context, scope txn.Scope, items []models.LineItem) error {
	ctx, span := util.StartSpan(ctx, "SalesService.Accumulate")
	defer span.End()

	day := models.TruncateToDay(s.now(), s.loc)

	err := txn.Run(ctx, s.sales, scope, func(ctx context.Context, tx txn.Tx) error {
		for _, item := range items {
			if err := s.accumulateItem(ctx, tx, day, item); err != nil {
				return err
			}
		}
		return nil
	})
	util.RecordSpanError(span, err)
	return err
}

func (s *SalesService) accumulateItem(ctx context.Context, tx txn.Tx, day time.Time, item models.LineItem) error {
	if item.Quantity <= 0 {
		return fmt.Errorf("%w: product option %d quantity %d", models.ErrInvalidQuantity, item.ProductOptionID, item.Quantity)
	}

	option, err := s.options.GetOption(ctx, tx, item.ProductOptionID)
	if err != nil {
		return err
	}

	row, err := s.sales.FindDailySalesForUpdate(ctx, tx, option.ProductID, option.ID, day)
	if err != nil {
		return err
	}

	if row != nil {
		total, err := s.sales.IncreaseDailySales(ctx, tx, row.ID, int64(item.Quantity))
		if err != nil {
			return err
		}
		s.logger.Debug("Daily sales increased",
			zap.Int64("product_option_id", option.ID),
			zap.Int64("total_sold", total))
		return nil
	}

	row = &models.DailyPopularProduct{
		ProductID:       option.ProductID,
		ProductOptionID: option.ID,
		SoldDate:        day,
		TotalSold:       int64(item.Quantity),
	}
	if err := s.sales.CreateDailySales(ctx, tx, row); err != nil {
		return err
	}
	s.logger.Debug("Daily sales created",
		zap.Int64("product_option_id", option.ID),
		zap.Int64("total_sold", row.TotalSold))
	return nil
}
