// Package scheduler runs deferred order cancellations from a Redis sorted set,
// so pending cancellations survive process restarts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/redisclient"
	"order-fulfillment/internal/util"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	DefaultDelay        = 15 * time.Minute
	DefaultPollInterval = time.Second
	// a claimed task becomes due again if its claimer neither acks nor re-queues it
	DefaultLease = time.Minute

	// max due tasks claimed per poll
	batchSize = 100
)

// Moves member ARGV[1] to score ARGV[3] if its score is at most ARGV[2].
const claimScript = `
local score = redis.call("ZSCORE", KEYS[1], ARGV[1])
if not score or tonumber(score) > tonumber(ARGV[2]) then
	return 0
end
redis.call("ZADD", KEYS[1], ARGV[3], ARGV[1])
return 1
`

// Removes member ARGV[1] only while it still carries lease score ARGV[2].
const ackScript = `
local score = redis.call("ZSCORE", KEYS[1], ARGV[1])
if score and tonumber(score) == tonumber(ARGV[2]) then
	return redis.call("ZREM", KEYS[1], ARGV[1])
end
return 0
`

// ErrInvalidDelay is returned by SetDelay for non-positive delays
var ErrInvalidDelay = errors.New("cancellation delay must be positive")

// CancelFunc cancels one order; it must be a no-op for orders that already
// left PENDING_PAYMENT.
type CancelFunc func(ctx context.Context, orderID int64) error

// Alerter receives a message when a cancellation has to be re-queued
type Alerter interface {
	Alert(ctx context.Context, channel, message string) error
}

// Scheduler is the durable cancellation scheduler
type Scheduler struct {
	rdb          *redis.Client
	key          string
	cancel       CancelFunc
	alerter      Alerter
	delay        atomic.Int64
	pollInterval time.Duration
	lease        time.Duration
	claim        *redis.Script
	ack          *redis.Script
	now          func() time.Time
	logger       *zap.Logger
}

// NewScheduler creates a scheduler whose due tasks call cancel.
func NewScheduler(client *redisclient.Client, cancel CancelFunc, alerter Alerter, delay, pollInterval time.Duration) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	s := &Scheduler{
		rdb:          client.GetClient(),
		key:          redisclient.KeyOrderCancellations,
		cancel:       cancel,
		alerter:      alerter,
		pollInterval: pollInterval,
		lease:        DefaultLease,
		claim:        redis.NewScript(claimScript),
		ack:          redis.NewScript(ackScript),
		now:          time.Now,
		logger:       util.ComponentLogger("cancellation_scheduler"),
	}
	s.delay.Store(int64(delay))
	return s
}

// SetDelay changes the delay applied to cancellations scheduled from now on.
func (s *Scheduler) SetDelay(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDelay, d)
	}
	s.delay.Store(int64(d))
	s.logger.Info("Cancellation delay changed", zap.Duration("delay", d))
	return nil
}

// Delay returns the current cancellation delay
func (s *Scheduler) Delay() time.Duration {
	return time.Duration(s.delay.Load())
}

// Schedule registers a one-shot cancellation of orderID after the current delay.
// Scheduling the same order again moves its due time.
func (s *Scheduler) Schedule(ctx context.Context, orderID int64) error {
	due := s.now().Add(s.Delay())
	if err := s.add(ctx, orderID, due); err != nil {
		return err
	}

	util.CancellationsScheduledTotal.Inc()
	s.logger.Info("Order cancellation scheduled",
		zap.Int64("order_id", orderID),
		zap.Time("due_at", due))
	return nil
}

// Pending returns the number of scheduled cancellations not yet claimed
func (s *Scheduler) Pending(ctx context.Context) (int64, error) {
	n, err := s.rdb.ZCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: count cancellations: %v", models.ErrInfrastructure, err)
	}
	return n, nil
}

// Start polls for due cancellations until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Cancellation scheduler started",
		zap.Duration("delay", s.Delay()),
		zap.Duration("poll_interval", s.pollInterval))

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Cancellation scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.RunDue(ctx); err != nil {
				s.logger.Error("Cancellation poll failed", zap.Error(err))
			}
		}
	}
}

// RunDue claims and runs every cancellation whose due time has passed. It
// returns the number of orders this instance processed.
//
// A claim pushes the task's score one lease ahead instead of removing it, and
// the task is removed only after the cancellation succeeds. A task whose
// claimer dies is picked up again once the lease runs out.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	now := s.now()
	members, err := s.rdb.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: batchSize,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: read due cancellations: %v", models.ErrInfrastructure, err)
	}

	processed := 0
	for _, member := range members {
		leaseScore := now.Add(s.lease).UnixMilli()
		claimed, err := s.claim.Run(ctx, s.rdb, []string{s.key}, member, now.UnixMilli(), leaseScore).Int64()
		if err != nil {
			return processed, fmt.Errorf("%w: claim cancellation: %v", models.ErrInfrastructure, err)
		}
		if claimed == 0 {
			continue
		}

		orderID, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			s.logger.Error("Dropping malformed cancellation entry", zap.String("member", member))
			s.rdb.ZRem(ctx, s.key, member)
			continue
		}

		s.run(ctx, orderID, leaseScore)
		processed++
	}
	return processed, nil
}

func (s *Scheduler) run(ctx context.Context, orderID, leaseScore int64) {
	ctx, span := util.StartSpan(ctx, "Scheduler.CancelOrder")
	defer span.End()

	err := s.cancel(ctx, orderID)
	if err == nil {
		// a zero result means the order was scheduled again meanwhile; that entry stays
		if _, ackErr := s.ack.Run(ctx, s.rdb, []string{s.key}, orderID, leaseScore).Result(); ackErr != nil {
			s.logger.Warn("Cancelled order stays queued until its lease expires",
				zap.Int64("order_id", orderID),
				zap.Error(ackErr))
		}
		return
	}
	util.RecordSpanError(span, err)

	due := s.now().Add(s.Delay())
	if addErr := s.add(ctx, orderID, due); addErr != nil {
		s.logger.Error("Cancellation failed and could not be re-queued",
			zap.Int64("order_id", orderID),
			zap.Error(err),
			zap.NamedError("requeue_error", addErr))
		if s.alerter != nil {
			msg := fmt.Sprintf("order %d: cancellation failed (%v) and re-queue failed (%v); retried after lease of %s",
				orderID, err, addErr, s.lease)
			_ = s.alerter.Alert(ctx, models.AlertChannelCancellationRetry, msg)
		}
		return
	}

	util.CancellationsRequeuedTotal.Inc()
	s.logger.Warn("Cancellation failed, re-queued",
		zap.Int64("order_id", orderID),
		zap.Time("due_at", due),
		zap.Error(err))
}

func (s *Scheduler) add(ctx context.Context, orderID int64, due time.Time) error {
	err := s.rdb.ZAdd(ctx, s.key, &redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: strconv.FormatInt(orderID, 10),
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: schedule cancellation of order %d: %v", models.ErrInfrastructure, orderID, err)
	}
	return nil
}
