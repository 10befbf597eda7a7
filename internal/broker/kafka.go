package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"order-fulfillment/internal/util"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// messageWriter is the part of kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageReader is the part of kafka.Reader the consumer uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	return newProducer(writer, topic)
}

func newProducer(writer messageWriter, topic string) *Producer {
	return &Producer{
		writer: writer,
		topic:  topic,
		logger: util.ComponentLogger("kafka-producer").With(zap.String("topic", topic)),
	}
}

// PublishEvent publishes an event to Kafka. Messages sharing a key land on
// the same partition and keep their order.
func (p *Producer) PublishEvent(ctx context.Context, key string, event interface{}) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: eventBytes,
		Time:  time.Now(),
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{msg: &msg})

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		util.EventsPublishedTotal.WithLabelValues(p.topic, "error").Inc()
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	util.EventsPublishedTotal.WithLabelValues(p.topic, "ok").Inc()
	p.logger.Debug("Published event",
		zap.String("key", key),
		zap.String("type", fmt.Sprintf("%T", event)))
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer represents a Kafka consumer
type Consumer struct {
	reader          messageReader
	topic           string
	retryBackoff    time.Duration
	maxRetryBackoff time.Duration
	logger          *zap.Logger
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	return newConsumer(reader, topic)
}

func newConsumer(reader messageReader, topic string) *Consumer {
	return &Consumer{
		reader:          reader,
		topic:           topic,
		retryBackoff:    time.Second,
		maxRetryBackoff: 30 * time.Second,
		logger:          util.ComponentLogger("kafka-consumer").With(zap.String("topic", topic)),
	}
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler is a function type for handling messages
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// StartConsuming fetches messages until ctx ends. A rejected message is
// retried in place with capped backoff and the next message is not fetched
// until it is handled, so a commit never moves past an unhandled offset.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting Kafka consumer")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("Consumer context cancelled, stopping")
				return ctx.Err()
			}
			c.logger.Error("Error fetching message", zap.Error(err))
			select {
			case <-time.After(c.retryBackoff):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := c.handleUntilAccepted(ctx, handler, msg); err != nil {
			c.logger.Info("Consumer context cancelled, stopping",
				zap.Int64("uncommitted_offset", msg.Offset))
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Error committing message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// handleUntilAccepted returns nil once handler accepts msg, or ctx.Err().
func (c *Consumer) handleUntilAccepted(ctx context.Context, handler MessageHandler, msg kafka.Message) error {
	msgCtx := otel.GetTextMapPropagator().Extract(ctx, headerCarrier{msg: &msg})
	backoff := c.retryBackoff

	for attempt := 1; ; attempt++ {
		err := handler(msgCtx, msg)
		if err == nil {
			util.EventsConsumedTotal.WithLabelValues(c.topic, "ok").Inc()
			return nil
		}

		util.EventsConsumedTotal.WithLabelValues(c.topic, "error").Inc()
		c.logger.Error("Error handling message, retrying",
			zap.Int64("offset", msg.Offset),
			zap.String("key", string(msg.Key)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		if backoff *= 2; backoff > c.maxRetryBackoff {
			backoff = c.maxRetryBackoff
		}
	}
}

// headerCarrier adapts kafka message headers to the otel propagator
type headerCarrier struct {
	msg *kafka.Message
}

var _ propagation.TextMapCarrier = headerCarrier{}

func (c headerCarrier) Get(key string) string {
	for _, h := range c.msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range c.msg.Headers {
		if h.Key == key {
			c.msg.Headers[i].Value = []byte(value)
			return
		}
	}
	c.msg.Headers = append(c.msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.msg.Headers))
	for _, h := range c.msg.Headers {
		keys = append(keys, h.Key)
	}
	return keys
}
