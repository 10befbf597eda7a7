package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"order-fulfillment/internal/broker"
	"order-fulfillment/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockScheduler struct {
	mock.Mock
}

func (m *mockScheduler) Schedule(ctx context.Context, orderID int64) error {
	return m.Called(ctx, orderID).Error(0)
}

type mockAlerter struct {
	mock.Mock
}

func (m *mockAlerter) Alert(ctx context.Context, channel, message string) error {
	return m.Called(ctx, channel, message).Error(0)
}

type stubSource struct {
	messages []kafka.Message
	closed   bool
}

func (s *stubSource) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	for _, msg := range s.messages {
		_ = handler(ctx, msg)
	}
	return nil
}

func (s *stubSource) Close() error {
	s.closed = true
	return nil
}

func orderCreated(t *testing.T, orderID int64) kafka.Message {
	t.Helper()
	value, err := json.Marshal(models.NewOrderCreatedEvent(orderID))
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestWorkerSchedulesCancellation(t *testing.T) {
	scheduler := &mockScheduler{}
	alerter := &mockAlerter{}
	scheduler.On("Schedule", mock.Anything, int64(11)).Return(nil).Once()
	scheduler.On("Schedule", mock.Anything, int64(12)).Return(nil).Once()

	source := &stubSource{messages: []kafka.Message{orderCreated(t, 11), orderCreated(t, 12)}}
	w := newOrderWorker(source, scheduler, alerter)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())

	scheduler.AssertExpectations(t)
	alerter.AssertNotCalled(t, "Alert", mock.Anything, mock.Anything, mock.Anything)
	assert.True(t, source.closed)
}

func TestWorkerAlertsWhenSchedulingFails(t *testing.T) {
	scheduler := &mockScheduler{}
	alerter := &mockAlerter{}
	scheduler.On("Schedule", mock.Anything, int64(5)).Return(errors.New("redis timeout")).Once()
	alerter.On("Alert", mock.Anything, models.AlertChannelCancellationRetry, mock.Anything).Return(nil).Once()

	w := newOrderWorker(&stubSource{}, scheduler, alerter)

	err := w.Handle(context.Background(), orderCreated(t, 5))
	assert.EqualError(t, err, "redis timeout")

	scheduler.AssertExpectations(t)
	alerter.AssertExpectations(t)
}
