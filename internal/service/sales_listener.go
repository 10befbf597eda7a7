package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/txn"
	"order-fulfillment/internal/util"

	"go.uber.org/zap"
)

const (
	DefaultSalesMaxAttempts = 3
	DefaultSalesBaseDelay   = time.Second
)

// SalesAccumulator is the operation the listener retries
type SalesAccumulator interface {
	Accumulate(ctx context.Context, scope txn.Scope, items []models.LineItem) error
}

// SalesListener retries sales accumulation with linear backoff and
// dead-letters the items once attempts run out. Failures never reach the
// caller.
type SalesListener struct {
	accumulator SalesAccumulator
	beginner    txn.Beginner
	alerter     Alerter
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *zap.Logger
}

// NewSalesListener creates a listener making up to maxAttempts attempts
func NewSalesListener(accumulator SalesAccumulator, beginner txn.Beginner, alerter Alerter, maxAttempts int, baseDelay time.Duration) *SalesListener {
	if maxAttempts <= 0 {
		maxAttempts = DefaultSalesMaxAttempts
	}
	if baseDelay < 0 {
		baseDelay = DefaultSalesBaseDelay
	}
	return &SalesListener{
		accumulator: accumulator,
		beginner:    beginner,
		alerter:     alerter,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		sleep:       sleepContext,
		logger:      util.GetLogger(),
	}
}

// Handle accumulates items within scope. Inside a joined transaction each
// attempt runs behind a savepoint, so a failed attempt leaves the caller's
// transaction usable.
func (l *SalesListener) Handle(ctx context.Context, scope txn.Scope, items []models.LineItem) error {
	ctx, span := util.StartSpan(ctx, "SalesListener.Handle")
	defer span.End()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		attempts = attempt
		savepoint := fmt.Sprintf("sales_accumulate_%d", attempt)
		lastErr = txn.Attempt(ctx, l.beginner, scope, savepoint, func(ctx context.Context, tx txn.Tx) error {
			return l.accumulator.Accumulate(ctx, txn.Join(tx), items)
		})
		if lastErr == nil {
			return nil
		}

		l.logger.Warn("Sales accumulation attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", l.maxAttempts),
			zap.Error(lastErr))

		if attempt == l.maxAttempts {
			break
		}
		util.SalesAccumulationRetriesTotal.Inc()
		if err := l.sleep(ctx, time.Duration(attempt)*l.baseDelay); err != nil {
			lastErr = fmt.Errorf("retry interrupted: %w (last error: %v)", err, lastErr)
			break
		}
	}

	util.RecordSpanError(span, lastErr)
	l.deadLetter(ctx, items, attempts, lastErr)
	return nil
}

func (l *SalesListener) deadLetter(ctx context.Context, items []models.LineItem, attempts int, cause error) {
	util.SalesAccumulationExhaustedTotal.Inc()
	l.logger.Error("Sales accumulation exhausted retries",
		zap.Int("attempts", attempts),
		zap.Any("items", items),
		zap.Error(cause))

	payload, err := json.Marshal(models.SalesDeadLetter{
		Items:     items,
		Attempts:  attempts,
		LastError: cause.Error(),
	})
	if err != nil {
		l.logger.Error("Failed to encode sales dead letter", zap.Error(err))
		return
	}

	if err := l.alerter.Alert(context.WithoutCancel(ctx), models.AlertChannelSalesDeadLetter, string(payload)); err != nil {
		l.logger.Error("Failed to deliver sales dead letter", zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
