package worker

import (
	"context"
	"fmt"

	"order-fulfillment/internal/broker"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/service"
	"order-fulfillment/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// OrderWorker schedules the deferred cancellation of every created order
type OrderWorker struct {
	consumer     messageSource
	eventHandler *broker.EventHandler
	scheduler    service.CancellationScheduler
	alerter      service.Alerter
	logger       *zap.Logger
}

// NewOrderWorker creates a new order worker
func NewOrderWorker(
	consumer *broker.Consumer,
	scheduler service.CancellationScheduler,
	alerter service.Alerter,
) *OrderWorker {
	return newOrderWorker(consumer, scheduler, alerter)
}

func newOrderWorker(consumer messageSource, scheduler service.CancellationScheduler, alerter service.Alerter) *OrderWorker {
	w := &OrderWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		scheduler:    scheduler,
		alerter:      alerter,
		logger:       util.ComponentLogger("order-worker"),
	}
	w.eventHandler.OnOrderCreated(w.handleOrderCreated)
	return w
}

func (w *OrderWorker) handleOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	ctx, span := util.StartSpan(ctx, "OrderWorker.HandleOrderCreated")
	defer span.End()

	if err := w.scheduler.Schedule(ctx, event.OrderID); err != nil {
		util.RecordSpanError(span, err)
		w.logger.Error("Failed to schedule order cancellation",
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
		msg := fmt.Sprintf("order %d cancellation not scheduled yet, consumer is retrying: %v", event.OrderID, err)
		if alertErr := w.alerter.Alert(context.WithoutCancel(ctx), models.AlertChannelCancellationRetry, msg); alertErr != nil {
			w.logger.Error("Failed to deliver cancellation alert", zap.Error(alertErr))
		}
		return err
	}

	w.logger.Debug("Order cancellation scheduled", zap.Int64("order_id", event.OrderID))
	return nil
}

// Handle processes one message; exposed for the consumer loop
func (w *OrderWorker) Handle(ctx context.Context, msg kafka.Message) error {
	return w.eventHandler.HandleMessage(ctx, msg)
}

// Start starts the worker
func (w *OrderWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting order worker")
	return w.consumer.StartConsuming(ctx, w.Handle)
}

// Stop stops the worker
func (w *OrderWorker) Stop() error {
	w.logger.Info("Stopping order worker")
	return w.consumer.Close()
}
