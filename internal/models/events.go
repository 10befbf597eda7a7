package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeOrderCreated = "ORDER_CREATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id and time.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// OrderCreatedEvent published once the order transaction has committed
type OrderCreatedEvent struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
}

// NewOrderCreatedEvent builds the event for orderID.
func NewOrderCreatedEvent(orderID int64) *OrderCreatedEvent {
	return &OrderCreatedEvent{
		BaseEvent: NewBaseEvent(EventTypeOrderCreated),
		OrderID:   orderID,
	}
}

// Alert channels
const (
	AlertChannelSalesDeadLetter   = "sales-accumulation-dead-letter"
	AlertChannelReconciliation    = "payment-reconciliation"
	AlertChannelInvalidState      = "invalid-state"
	AlertChannelEventPublishing   = "event-publishing"
	AlertChannelCancellationRetry = "cancellation-retry"
)

// Alert is the message carried on the alert topic
type Alert struct {
	Channel   string    `json:"channel"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SalesDeadLetter is the payload alerted when sales accumulation exhausts its retries
type SalesDeadLetter struct {
	Items     []LineItem `json:"items"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error"`
}
