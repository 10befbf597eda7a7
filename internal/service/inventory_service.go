package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/txn"
	"order-fulfillment/internal/util"

	"go.uber.org/zap"
)

// DefaultLockTTL bounds how long a crashed holder can block a product option
const DefaultLockTTL = time.Second

// InventoryService reserves and restores product option stock. Every stock
// change holds the option's distributed lock and its database row lock.
type InventoryService struct {
	store   InventoryStore
	locker  Locker
	lockTTL time.Duration
	logger  *zap.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(store InventoryStore, locker Locker, lockTTL time.Duration) *InventoryService {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &InventoryService{
		store:   store,
		locker:  locker,
		lockTTL: lockTTL,
		logger:  util.GetLogger(),
	}
}

// Decrease takes quantity units out of stock and returns the option as it is
// after the decrement.
func (s *InventoryService) Decrease(ctx context.Context, scope txn.Scope, optionID int64, quantity int) (*models.ProductOption, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Decrease")
	defer span.End()

	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	if quantity <= 0 {
		util.InventoryReservationsFailed.WithLabelValues("invalid_quantity").Inc()
		return nil, fmt.Errorf("%w: %d", models.ErrInvalidQuantity, quantity)
	}

	var option *models.ProductOption
	err := s.withLock(ctx, optionID, func(ctx context.Context) error {
		return txn.Run(ctx, s.store, scope, func(ctx context.Context, tx txn.Tx) error {
			current, err := s.store.GetOptionForUpdate(ctx, tx, optionID)
			if err != nil {
				return err
			}

			if current.Stock < quantity {
				return &models.InsufficientStockError{
					OptionID:  optionID,
					Requested: quantity,
					Available: current.Stock,
				}
			}

			stock, err := s.store.DecrementStock(ctx, tx, optionID, quantity)
			if err != nil {
				return err
			}
			current.Stock = stock
			option = current
			return nil
		})
	})
	if err != nil {
		util.InventoryReservationsFailed.WithLabelValues(failureReason(err)).Inc()
		util.RecordSpanError(span, err)
		return nil, err
	}

	s.logger.Debug("Stock decreased",
		zap.Int64("product_option_id", optionID),
		zap.Int("quantity", quantity),
		zap.Int("stock", option.Stock))
	return option, nil
}

// Restore puts quantity units back into stock
func (s *InventoryService) Restore(ctx context.Context, scope txn.Scope, optionID int64, quantity int) (*models.ProductOption, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Restore")
	defer span.End()

	if quantity <= 0 {
		return nil, fmt.Errorf("%w: %d", models.ErrInvalidQuantity, quantity)
	}

	var option *models.ProductOption
	err := s.withLock(ctx, optionID, func(ctx context.Context) error {
		return txn.Run(ctx, s.store, scope, func(ctx context.Context, tx txn.Tx) error {
			current, err := s.store.GetOptionForUpdate(ctx, tx, optionID)
			if err != nil {
				return err
			}

			stock, err := s.store.IncrementStock(ctx, tx, optionID, quantity)
			if err != nil {
				return err
			}
			current.Stock = stock
			option = current
			return nil
		})
	})
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}

	util.InventoryRestoredTotal.Add(float64(quantity))
	s.logger.Debug("Stock restored",
		zap.Int64("product_option_id", optionID),
		zap.Int("quantity", quantity),
		zap.Int("stock", option.Stock))
	return option, nil
}

// GetOption returns the current state of a product option
func (s *InventoryService) GetOption(ctx context.Context, optionID int64) (*models.ProductOption, error) {
	return s.store.GetOption(ctx, nil, optionID)
}

// withLock runs fn while holding the option's distributed lock. The lock is
// released whatever fn returns.
func (s *InventoryService) withLock(ctx context.Context, optionID int64, fn func(ctx context.Context) error) error {
	resource := optionLockKey(optionID)

	token, err := s.locker.Acquire(ctx, resource, s.lockTTL)
	if err != nil {
		return fmt.Errorf("failed to lock product option %d: %w", optionID, err)
	}

	defer func() {
		// the work may have been cancelled; the release must still go out
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lockTTL)
		defer cancel()

		released, err := s.locker.Release(releaseCtx, resource, token)
		if err != nil {
			s.logger.Error("Failed to release product option lock",
				zap.String("resource", resource),
				zap.Error(err))
			return
		}
		if !released {
			s.logger.Warn("Product option lock expired before release",
				zap.String("resource", resource),
				zap.Duration("ttl", s.lockTTL))
		}
	}()

	return fn(ctx)
}

func optionLockKey(optionID int64) string {
	return fmt.Sprintf("product_option:%d", optionID)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrLockUnavailable):
		return "lock_unavailable"
	case models.IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}
