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

// SalesHandler records the units of a paid order
type SalesHandler interface {
	Handle(ctx context.Context, scope txn.Scope, items []models.LineItem) error
}

// PaymentService runs the payment completion saga
type PaymentService struct {
	orders   OrderStore
	payments PaymentStore
	balances BalanceStore
	sales    SalesHandler
	gateway  PaymentGateway
	alerter  Alerter
	logger   *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	orders OrderStore,
	payments PaymentStore,
	balances BalanceStore,
	sales SalesHandler,
	gateway PaymentGateway,
	alerter Alerter,
) *PaymentService {
	return &PaymentService{
		orders:   orders,
		payments: payments,
		balances: balances,
		sales:    sales,
		gateway:  gateway,
		alerter:  alerter,
		logger:   util.GetLogger(),
	}
}

// CompletePaymentRequest identifies the payer and the provider payment
type CompletePaymentRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	MID    string `json:"mid" binding:"required"`
	TID    string `json:"tid" binding:"required"`
}

// CompletePayment settles a pending payment in one transaction: it records
// the sales, debits the payer and checks the provider's paid amount. A
// matching amount completes the payment and marks the order paid; a
// mismatch fails the payment and leaves the order as it is.
//
// Any error rolls the transaction back, after which the payment is marked
// FAILED and the order CANCELLED outside of any transaction, and the
// original error is returned.
func (s *PaymentService) CompletePayment(ctx context.Context, paymentID int64, req *CompletePaymentRequest) (*models.PaymentResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CompletePayment")
	defer span.End()

	util.PaymentAttemptsTotal.Inc()
	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	// as loaded, before any in-transaction change
	var loadedPayment *models.Payment
	var loadedOrder *models.Order
	var result *models.PaymentResult

	err := txn.Run(ctx, s.payments, txn.New(), func(ctx context.Context, tx txn.Tx) error {
		payment, err := s.payments.GetPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		snapshot := *payment
		loadedPayment = &snapshot

		// lock order before payment, the same order cancellation uses
		order, err := s.orders.GetOrderForUpdate(ctx, tx, payment.OrderID)
		if err != nil {
			return err
		}
		orderSnapshot := *order
		loadedOrder = &orderSnapshot

		payment, err = s.payments.GetPaymentForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		snapshot = *payment
		loadedPayment = &snapshot

		if !payment.Status.CanTransitionTo(models.PaymentStatusCompleted) {
			return &models.InvalidTransitionError{
				Entity: "payment", ID: payment.ID,
				From: string(payment.Status), To: string(models.PaymentStatusCompleted),
			}
		}

		items, err := s.orders.GetOrderItems(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if err := s.sales.Handle(ctx, txn.Join(tx), toLineItems(items)); err != nil {
			return err
		}

		if _, err := s.balances.DebitBalance(ctx, tx, req.UserID, payment.Amount); err != nil {
			return err
		}

		paid, err := s.gateway.GetPaidInfo(ctx, req.MID, req.TID)
		if err != nil {
			return fmt.Errorf("failed to verify payment %d: %w", payment.ID, err)
		}

		if paid.Amount == payment.Amount {
			if err := payment.TransitionTo(models.PaymentStatusCompleted); err != nil {
				return err
			}
			if err := order.TransitionTo(models.OrderStatusPaid); err != nil {
				return err
			}
		} else {
			s.logger.Warn("Paid amount does not match payment",
				zap.Int64("payment_id", payment.ID),
				zap.Int64("expected", payment.Amount),
				zap.Int64("paid", paid.Amount))
			if err := payment.TransitionTo(models.PaymentStatusFailed); err != nil {
				return err
			}
		}

		if err := s.payments.UpdatePaymentStatus(ctx, tx, payment.ID, payment.Status); err != nil {
			return err
		}
		if err := s.orders.UpdateOrderStatus(ctx, tx, order.ID, order.Status); err != nil {
			return err
		}

		result = &models.PaymentResult{
			PaymentID:     payment.ID,
			OrderID:       order.ID,
			PaymentStatus: payment.Status,
			OrderStatus:   order.Status,
			Amount:        payment.Amount,
		}
		return nil
	})
	if err != nil {
		util.PaymentFailedTotal.WithLabelValues(paymentFailureReason(err)).Inc()
		util.RecordSpanError(span, err)
		s.logger.Warn("Payment completion failed, compensating",
			zap.Int64("payment_id", paymentID),
			zap.Error(err))

		s.compensate(context.WithoutCancel(ctx), loadedPayment, loadedOrder, err)
		return nil, err
	}

	if result.PaymentStatus == models.PaymentStatusCompleted {
		util.PaymentCompletedTotal.Inc()
		s.logger.Info("Payment completed",
			zap.Int64("payment_id", result.PaymentID),
			zap.Int64("order_id", result.OrderID))
	} else {
		util.PaymentFailedTotal.WithLabelValues("amount_mismatch").Inc()
	}
	return result, nil
}

// compensate marks the payment FAILED and the order CANCELLED with separate
// autocommit writes. Writes that fail are not retried; they are alerted for
// manual reconciliation.
func (s *PaymentService) compensate(ctx context.Context, payment *models.Payment, order *models.Order, cause error) {
	if payment == nil {
		s.logger.Warn("Nothing to compensate, payment was never loaded", zap.Error(cause))
		return
	}

	if !payment.Status.CanTransitionTo(models.PaymentStatusFailed) {
		// settled by someone else; the order belongs to that outcome
		s.alertInvalidState(ctx, "payment", payment.ID, string(payment.Status), string(models.PaymentStatusFailed), cause)
		return
	}

	payment.Status = models.PaymentStatusFailed
	if err := s.payments.UpdatePaymentStatus(ctx, nil, payment.ID, payment.Status); err != nil {
		s.alertReconciliation(ctx, "payment", payment.ID, string(payment.Status), cause, err)
	}

	if order == nil {
		s.logger.Warn("Order not loaded, only the payment was compensated",
			zap.Int64("payment_id", payment.ID),
			zap.Int64("order_id", payment.OrderID))
		return
	}

	// only an order still awaiting this payment is cancelled
	if order.Status != models.OrderStatusPendingPayment {
		s.alertInvalidState(ctx, "order", order.ID, string(order.Status), string(models.OrderStatusCancelled), cause)
		return
	}
	order.Status = models.OrderStatusCancelled
	if err := s.orders.UpdateOrderStatus(ctx, nil, order.ID, order.Status); err != nil {
		s.alertReconciliation(ctx, "order", order.ID, string(order.Status), cause, err)
	}
}

func (s *PaymentService) alertReconciliation(ctx context.Context, entity string, id int64, status string, cause, err error) {
	util.CompensationFailuresTotal.Inc()
	s.logger.Error("Compensation write failed, manual reconciliation required",
		zap.String("entity", entity),
		zap.Int64("id", id),
		zap.String("target_status", status),
		zap.NamedError("cause", cause),
		zap.Error(err))

	msg := fmt.Sprintf("%s %d must be set to %s by hand: compensation write failed (%v) after %v",
		entity, id, status, err, cause)
	if alertErr := s.alerter.Alert(ctx, models.AlertChannelReconciliation, msg); alertErr != nil {
		s.logger.Error("Failed to deliver reconciliation alert", zap.Error(alertErr))
	}
}

func (s *PaymentService) alertInvalidState(ctx context.Context, entity string, id int64, from, to string, cause error) {
	s.logger.Warn("Compensation skipped for status that cannot move",
		zap.String("entity", entity),
		zap.Int64("id", id),
		zap.String("from", from),
		zap.String("to", to),
		zap.NamedError("cause", cause))

	msg := fmt.Sprintf("%s %d left in %s instead of %s after %v", entity, id, from, to, cause)
	if alertErr := s.alerter.Alert(ctx, models.AlertChannelInvalidState, msg); alertErr != nil {
		s.logger.Error("Failed to deliver invalid state alert", zap.Error(alertErr))
	}
}

// GetPayment retrieves a payment by ID
func (s *PaymentService) GetPayment(ctx context.Context, paymentID int64) (*models.Payment, error) {
	return s.payments.GetPayment(ctx, nil, paymentID)
}

func toLineItems(items []models.OrderItem) []models.LineItem {
	lines := make([]models.LineItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, models.LineItem{ProductOptionID: item.ProductOptionID, Quantity: item.Quantity})
	}
	return lines
}

func paymentFailureReason(err error) string {
	switch {
	case models.IsNotFound(err):
		return "not_found"
	case errors.Is(err, models.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, models.ErrGateway):
		return "gateway_error"
	case errors.Is(err, models.ErrInvalidStateTransition):
		return "invalid_state"
	default:
		return "error"
	}
}
