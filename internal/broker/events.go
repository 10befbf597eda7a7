package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// eventWriter publishes one keyed event
type eventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer eventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// AlertPublisher delivers operator alerts to the alert topic. Every alert is
// also logged at error level, so it survives a broker outage in the logs.
type AlertPublisher struct {
	producer eventWriter
	logger   *zap.Logger
}

// NewAlertPublisher creates an alert publisher writing through producer
func NewAlertPublisher(producer *Producer) *AlertPublisher {
	return newAlertPublisher(producer)
}

func newAlertPublisher(producer eventWriter) *AlertPublisher {
	return &AlertPublisher{
		producer: producer,
		logger:   util.ComponentLogger("alerts"),
	}
}

// Alert publishes message on channel
func (ap *AlertPublisher) Alert(ctx context.Context, channel, message string) error {
	ap.logger.Error("Operator alert",
		zap.String("channel", channel),
		zap.String("message", message))

	alert := models.Alert{Channel: channel, Message: message, Timestamp: time.Now()}
	if err := ap.producer.PublishEvent(ctx, channel, alert); err != nil {
		return fmt.Errorf("failed to publish alert on %s: %w", channel, err)
	}
	return nil
}

// EventHandler handles incoming events
type EventHandler struct {
	onOrderCreated func(context.Context, *models.OrderCreatedEvent) error
	logger         *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.ComponentLogger("event-handler")}
}

// OnOrderCreated registers a handler for OrderCreated events
func (eh *EventHandler) OnOrderCreated(handler func(context.Context, *models.OrderCreatedEvent) error) {
	eh.onOrderCreated = handler
}

// HandleMessage routes messages to appropriate handlers. Malformed messages
// are logged and acknowledged; redelivering them would never succeed.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		eh.logger.Error("Dropping malformed event",
			zap.String("key", string(msg.Key)),
			zap.Error(err))
		return nil
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderCreated:
		if eh.onOrderCreated == nil {
			return nil
		}
		var event models.OrderCreatedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			eh.logger.Error("Dropping malformed OrderCreated event", zap.Error(err))
			return nil
		}
		return eh.onOrderCreated(ctx, &event)

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
