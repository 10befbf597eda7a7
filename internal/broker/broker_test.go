package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"order-fulfillment/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	messages chan kafka.Message

	mu        sync.Mutex
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-r.messages:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func encode(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestPublishOrderCreated(t *testing.T) {
	writer := &fakeWriter{}
	publisher := &EventPublisher{producer: newProducer(writer, "orders")}

	event := models.NewOrderCreatedEvent(42)
	require.NoError(t, publisher.PublishOrderCreated(context.Background(), event))

	require.Len(t, writer.messages, 1)
	assert.Equal(t, "order-42", string(writer.messages[0].Key))

	var decoded models.OrderCreatedEvent
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &decoded))
	assert.Equal(t, int64(42), decoded.OrderID)
	assert.Equal(t, models.EventTypeOrderCreated, decoded.EventType)
	assert.Equal(t, event.EventID, decoded.EventID)
}

func TestPublishFailureIsReturned(t *testing.T) {
	writer := &fakeWriter{err: errors.New("leader not available")}
	publisher := &EventPublisher{producer: newProducer(writer, "orders")}

	err := publisher.PublishOrderCreated(context.Background(), models.NewOrderCreatedEvent(1))
	assert.ErrorContains(t, err, "leader not available")
}

func TestAlertPublisher(t *testing.T) {
	writer := &fakeWriter{}
	alerts := newAlertPublisher(newProducer(writer, "alerts"))

	require.NoError(t, alerts.Alert(context.Background(), models.AlertChannelReconciliation, "payment 3 must be FAILED"))

	require.Len(t, writer.messages, 1)
	assert.Equal(t, models.AlertChannelReconciliation, string(writer.messages[0].Key))

	var alert models.Alert
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &alert))
	assert.Equal(t, "payment 3 must be FAILED", alert.Message)
	assert.False(t, alert.Timestamp.IsZero())
}

func TestHandleMessageRoutesOrderCreated(t *testing.T) {
	handler := NewEventHandler()
	var got *models.OrderCreatedEvent
	handler.OnOrderCreated(func(ctx context.Context, event *models.OrderCreatedEvent) error {
		got = event
		return nil
	})

	err := handler.HandleMessage(context.Background(), kafka.Message{Value: encode(t, models.NewOrderCreatedEvent(9))})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(9), got.OrderID)
}

func TestHandleMessage(t *testing.T) {
	failing := errors.New("redis down")

	tests := []struct {
		name    string
		value   []byte
		wantErr error
	}{
		{name: "malformed payload is dropped", value: []byte("{not json")},
		{name: "unknown type is ignored", value: []byte(`{"event_type":"SOMETHING_ELSE"}`)},
		{name: "handler error is returned", value: nil, wantErr: failing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewEventHandler()
			handler.OnOrderCreated(func(ctx context.Context, event *models.OrderCreatedEvent) error {
				return failing
			})

			value := tt.value
			if value == nil {
				value = encode(t, models.NewOrderCreatedEvent(1))
			}
			err := handler.HandleMessage(context.Background(), kafka.Message{Value: value})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func startConsumer(t *testing.T, reader *fakeReader, handler MessageHandler) (context.CancelFunc, <-chan error) {
	t.Helper()
	consumer := newConsumer(reader, "orders")
	consumer.retryBackoff = time.Millisecond
	consumer.maxRetryBackoff = 4 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.StartConsuming(ctx, handler) }()
	return cancel, done
}

func waitStopped(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestStartConsumingRetriesRejectedMessageInPlace(t *testing.T) {
	reader := &fakeReader{messages: make(chan kafka.Message, 3)}
	reader.messages <- kafka.Message{Offset: 1, Value: []byte("a")}
	reader.messages <- kafka.Message{Offset: 2, Value: []byte("b")}
	reader.messages <- kafka.Message{Offset: 3, Value: []byte("c")}

	var mu sync.Mutex
	var seen []string
	cancel, done := startConsumer(t, reader, func(ctx context.Context, msg kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(msg.Value))
		if string(msg.Value) == "b" && len(seen) < 4 {
			return errors.New("redis down")
		}
		return nil
	})

	require.Eventually(t, func() bool { return len(reader.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	waitStopped(t, done)

	assert.Equal(t, []int64{1, 2, 3}, reader.commits())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "b", "b", "c"}, seen)
}

func TestStartConsumingNeverCommitsPastRejectedMessage(t *testing.T) {
	reader := &fakeReader{messages: make(chan kafka.Message, 3)}
	reader.messages <- kafka.Message{Offset: 1, Value: []byte("ok")}
	reader.messages <- kafka.Message{Offset: 2, Value: []byte("fail")}
	reader.messages <- kafka.Message{Offset: 3, Value: []byte("ok")}

	var attempts atomic.Int64
	var handledLater atomic.Bool
	cancel, done := startConsumer(t, reader, func(ctx context.Context, msg kafka.Message) error {
		switch msg.Offset {
		case 2:
			attempts.Add(1)
			return errors.New("rejected")
		case 3:
			handledLater.Store(true)
		}
		return nil
	})

	require.Eventually(t, func() bool { return attempts.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	waitStopped(t, done)

	assert.Equal(t, []int64{1}, reader.commits())
	assert.False(t, handledLater.Load(), "message after a rejected one must wait")
	assert.Len(t, reader.messages, 1)
}
