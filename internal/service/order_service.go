package service

import (
	"context"
	"fmt"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/txn"
	"order-fulfillment/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// OrderService runs the order fulfillment saga and deferred cancellation
type OrderService struct {
	orders         OrderStore
	payments       PaymentStore
	inventory      *InventoryService
	eventPublisher EventPublisher
	alerter        Alerter
	logger         *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	orders OrderStore,
	payments PaymentStore,
	inventory *InventoryService,
	eventPublisher EventPublisher,
	alerter Alerter,
) *OrderService {
	return &OrderService{
		orders:         orders,
		payments:       payments,
		inventory:      inventory,
		eventPublisher: eventPublisher,
		alerter:        alerter,
		logger:         util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	UserID int64             `json:"user_id" binding:"required"`
	Items  []models.LineItem `json:"items" binding:"required,min=1"`
}

// CreateOrder reserves stock for every line and records the order and its
// pending payment in one transaction. OrderCreated is published only after
// that transaction has committed.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.OrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", models.ErrInvalidQuantity)
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product option %d quantity %d",
				models.ErrInvalidQuantity, item.ProductOptionID, item.Quantity)
		}
	}

	var result *models.OrderResult
	err := txn.Run(ctx, s.orders, txn.New(), func(ctx context.Context, tx txn.Tx) error {
		options, err := s.reserveItems(ctx, tx, req.Items)
		if err != nil {
			return err
		}

		var total int64
		items := make([]models.OrderItem, 0, len(req.Items))
		for i, item := range req.Items {
			linePrice := options[i].Price * int64(item.Quantity)
			total += linePrice
			items = append(items, models.OrderItem{
				ProductOptionID:   item.ProductOptionID,
				ProductName:       options[i].ProductName,
				Quantity:          item.Quantity,
				TotalPriceAtOrder: linePrice,
			})
		}

		order := &models.Order{
			UserID:     req.UserID,
			Status:     models.OrderStatusPendingPayment,
			TotalPrice: total,
		}
		if err := s.orders.CreateOrder(ctx, tx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		for i := range items {
			items[i].OrderID = order.ID
		}
		if err := s.orders.CreateOrderItems(ctx, tx, items); err != nil {
			return fmt.Errorf("failed to create order items: %w", err)
		}

		payment := &models.Payment{
			OrderID: order.ID,
			Status:  models.PaymentStatusPending,
			Amount:  total,
		}
		if err := s.payments.CreatePayment(ctx, tx, payment); err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}

		result = &models.OrderResult{Order: order, Items: items, PaymentID: payment.ID}
		return nil
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		util.RecordSpanError(span, err)
		s.logger.Warn("Order creation rolled back",
			zap.Int64("user_id", req.UserID),
			zap.Error(err))
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", result.Order.ID),
		zap.Int64("payment_id", result.PaymentID),
		zap.Int64("total_price", result.Order.TotalPrice))

	if err := s.eventPublisher.PublishOrderCreated(ctx, models.NewOrderCreatedEvent(result.Order.ID)); err != nil {
		// the order is committed; without the event nothing schedules its cancellation
		s.logger.Error("Failed to publish OrderCreated event",
			zap.Int64("order_id", result.Order.ID),
			zap.Error(err))
		_ = s.alerter.Alert(ctx, models.AlertChannelEventPublishing,
			fmt.Sprintf("order %d committed but OrderCreated was not published: %v", result.Order.ID, err))
	}

	return result, nil
}

// reserveItems decreases stock for all lines concurrently inside tx. Each
// line targets its own lock key.
func (s *OrderService) reserveItems(ctx context.Context, tx txn.Tx, items []models.LineItem) ([]*models.ProductOption, error) {
	options := make([]*models.ProductOption, len(items))

	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			option, err := s.inventory.Decrease(gctx, txn.Join(tx), item.ProductOptionID, item.Quantity)
			if err != nil {
				return err
			}
			options[i] = option
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return options, nil
}

// GetOrder retrieves an order with its items and payment
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.OrderResult, error) {
	order, err := s.orders.GetOrder(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}

	items, err := s.orders.GetOrderItems(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}

	result := &models.OrderResult{Order: order, Items: items}
	payment, err := s.payments.GetPaymentByOrderID(ctx, nil, orderID)
	switch {
	case err == nil:
		result.PaymentID = payment.ID
	case !models.IsNotFound(err):
		return nil, err
	}
	return result, nil
}

// CancelOrder cancels an order still waiting for payment and restores its
// stock. Orders in any other status are left untouched, so repeated calls
// are harmless.
func (s *OrderService) CancelOrder(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	cancelled := false
	err := txn.Run(ctx, s.orders, txn.New(), func(ctx context.Context, tx txn.Tx) error {
		order, err := s.orders.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if order.Status != models.OrderStatusPendingPayment {
			s.logger.Info("Order no longer awaiting payment, skipping cancellation",
				zap.Int64("order_id", orderID),
				zap.String("status", string(order.Status)))
			return nil
		}

		if err := order.TransitionTo(models.OrderStatusCancelled); err != nil {
			return err
		}
		if err := s.orders.UpdateOrderStatus(ctx, tx, orderID, order.Status); err != nil {
			return err
		}

		items, err := s.orders.GetOrderItems(ctx, tx, orderID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if _, err := s.inventory.Restore(ctx, txn.Join(tx), item.ProductOptionID, item.Quantity); err != nil {
				return fmt.Errorf("failed to restore stock for order %d: %w", orderID, err)
			}
		}

		if err := s.cancelPendingPayment(ctx, tx, orderID); err != nil {
			return err
		}

		cancelled = true
		return nil
	})
	if err != nil {
		util.RecordSpanError(span, err)
		s.logger.Error("Order cancellation failed",
			zap.Int64("order_id", orderID),
			zap.Error(err))
		return err
	}

	if cancelled {
		util.OrdersCancelledTotal.Inc()
		s.logger.Info("Order cancelled and stock restored", zap.Int64("order_id", orderID))
	}
	return nil
}

// cancelPendingPayment closes the order's payment so it can no longer complete
func (s *OrderService) cancelPendingPayment(ctx context.Context, tx txn.Tx, orderID int64) error {
	payment, err := s.payments.GetPaymentByOrderID(ctx, tx, orderID)
	if models.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := payment.TransitionTo(models.PaymentStatusCancelled); err != nil {
		s.logger.Warn("Payment of cancelled order left as is",
			zap.Int64("payment_id", payment.ID),
			zap.String("status", string(payment.Status)))
		return nil
	}
	return s.payments.UpdatePaymentStatus(ctx, tx, payment.ID, payment.Status)
}
