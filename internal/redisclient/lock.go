package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Deletes KEYS[1] only while it still holds ARGV[1].
const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

const subscribeTimeout = 5 * time.Second

var errManagerClosed = errors.New("lock manager closed")

type waiter struct {
	wake chan struct{}
}

// waitQueue holds this process's waiters for one resource. One subscription
// to the resource's release channel serves every waiter in the queue, and each
// release resumes one waiter.
type waitQueue struct {
	waiters []*waiter // resumed in FIFO order
	sub     *redis.PubSub
	ready   chan struct{} // closed once the subscription is confirmed or failed
	err     error
}

// LockManager is a distributed mutex over Redis. Contended callers park on the
// resource's release channel instead of polling.
type LockManager struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	logger        *zap.Logger
	now           func() time.Time

	mu     sync.Mutex
	queues map[string]*waitQueue
	closed bool
}

// NewLockManager creates a lock manager on top of the shared Redis client
func NewLockManager(client *Client) *LockManager {
	return &LockManager{
		rdb:           client.rdb,
		releaseScript: redis.NewScript(releaseLockScript),
		logger:        util.ComponentLogger("lock_manager"),
		now:           time.Now,
		queues:        make(map[string]*waitQueue),
	}
}

// Acquire blocks until the lock on resource is held and returns the holder
// token. The wait ends early with ErrLockUnavailable when ctx is done.
func (m *LockManager) Acquire(ctx context.Context, resource string, ttl time.Duration) (string, error) {
	start := time.Now()
	contended := false
	defer func() {
		if contended {
			util.LockWaitLatency.Observe(time.Since(start).Seconds())
		}
	}()

	for {
		token, ok, err := m.tryAcquire(ctx, resource, ttl)
		if err != nil {
			util.LockAcquisitionsTotal.WithLabelValues("error").Inc()
			return "", err
		}
		if ok {
			util.LockAcquisitionsTotal.WithLabelValues(outcome(contended)).Inc()
			return token, nil
		}
		contended = true

		q, w, err := m.enqueue(ctx, resource)
		if err != nil {
			util.LockAcquisitionsTotal.WithLabelValues("error").Inc()
			return "", err
		}

		// the holder may have released between SET NX and SUBSCRIBE
		token, ok, err = m.tryAcquire(ctx, resource, ttl)
		if err != nil || ok {
			m.dequeue(resource, q, w)
			if err != nil {
				util.LockAcquisitionsTotal.WithLabelValues("error").Inc()
				return "", err
			}
			util.LockAcquisitionsTotal.WithLabelValues("waited").Inc()
			return token, nil
		}

		// an expired holder never publishes, so wait at most one TTL
		timer := time.NewTimer(ttl)
		select {
		case <-w.wake:
			timer.Stop()
		case <-timer.C:
			m.dequeue(resource, q, w)
		case <-ctx.Done():
			timer.Stop()
			select {
			case <-w.wake:
				// woken while giving up; pass the release on
				m.wakeNext(resource, q)
			default:
				m.dequeue(resource, q, w)
			}
			util.LockAcquisitionsTotal.WithLabelValues("cancelled").Inc()
			return "", fmt.Errorf("%w: %s: %v", models.ErrLockUnavailable, resource, ctx.Err())
		}
	}
}

// Release deletes the lock only if token still owns it and announces the
// release to waiters. It reports false, without error, when the lock had
// already expired or been taken over.
func (m *LockManager) Release(ctx context.Context, resource, token string) (bool, error) {
	deleted, err := m.releaseScript.Run(ctx, m.rdb, []string{lockKey(resource)}, token).Int64()
	if err != nil {
		util.LockReleasesTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("%w: release %s: %v", models.ErrInfrastructure, resource, err)
	}

	if deleted == 0 {
		util.LockReleasesTotal.WithLabelValues("stale").Inc()
		m.logger.Warn("Lock already released or taken over",
			zap.String("resource", resource),
			zap.String("token", token))
		return false, nil
	}

	if err := m.rdb.Publish(ctx, releaseChannel(resource), token).Err(); err != nil {
		// waiters fall back to their TTL wake-up
		m.logger.Warn("Failed to publish lock release",
			zap.String("resource", resource),
			zap.Error(err))
	}

	util.LockReleasesTotal.WithLabelValues("released").Inc()
	return true, nil
}

// Close drops every subscription and wakes all waiters, which then fail.
func (m *LockManager) Close() error {
	m.mu.Lock()
	m.closed = true
	queues := m.queues
	m.queues = make(map[string]*waitQueue)

	var subs []*redis.PubSub
	var waiters []*waiter
	for _, q := range queues {
		waiters = append(waiters, q.waiters...)
		q.waiters = nil
		if q.sub != nil {
			subs = append(subs, q.sub)
		}
	}
	m.mu.Unlock()

	for _, w := range waiters {
		close(w.wake)
	}
	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

func (m *LockManager) tryAcquire(ctx context.Context, resource string, ttl time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, fmt.Errorf("%w: %s: %v", models.ErrLockUnavailable, resource, err)
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return "", false, fmt.Errorf("%w: %s: %v", models.ErrLockUnavailable, resource, errManagerClosed)
	}

	token := newToken(m.now())
	ok, err := m.rdb.SetNX(ctx, lockKey(resource), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("%w: acquire %s: %v", models.ErrInfrastructure, resource, err)
	}
	return token, ok, nil
}

// enqueue registers a waiter for resource, subscribing to the release channel
// when this is the first local waiter.
func (m *LockManager) enqueue(ctx context.Context, resource string) (*waitQueue, *waiter, error) {
	w := &waiter{wake: make(chan struct{})}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %s: %v", models.ErrLockUnavailable, resource, errManagerClosed)
	}
	q, exists := m.queues[resource]
	if !exists {
		q = &waitQueue{ready: make(chan struct{})}
		m.queues[resource] = q
	}
	q.waiters = append(q.waiters, w)
	m.mu.Unlock()

	if !exists {
		m.subscribe(resource, q)
	}

	select {
	case <-q.ready:
	case <-ctx.Done():
		m.dequeue(resource, q, w)
		return nil, nil, fmt.Errorf("%w: %s: %v", models.ErrLockUnavailable, resource, ctx.Err())
	}

	if q.err != nil {
		return nil, nil, q.err
	}
	return q, w, nil
}

func (m *LockManager) subscribe(resource string, q *waitQueue) {
	// not tied to the first waiter's context: the subscription serves the whole queue
	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()

	sub := m.rdb.Subscribe(ctx, releaseChannel(resource))
	_, err := sub.Receive(ctx)

	m.mu.Lock()
	if err != nil {
		q.err = fmt.Errorf("%w: subscribe %s: %v", models.ErrInfrastructure, resource, err)
		q.waiters = nil
		if m.queues[resource] == q {
			delete(m.queues, resource)
		}
		m.mu.Unlock()
		_ = sub.Close()
		close(q.ready)
		return
	}

	if m.queues[resource] != q {
		// every waiter left, or the manager closed, while subscribing
		m.mu.Unlock()
		_ = sub.Close()
		close(q.ready)
		return
	}

	q.sub = sub
	m.mu.Unlock()
	close(q.ready)

	go m.listen(resource, q, sub.Channel())
}

// listen hands each release notification to the longest-waiting local waiter.
// The subscription stays open while the queue has waiters.
func (m *LockManager) listen(resource string, q *waitQueue, msgs <-chan *redis.Message) {
	for range msgs {
		m.wakeNext(resource, q)
	}
}

// wakeNext resumes the head of q and unsubscribes once q is drained.
func (m *LockManager) wakeNext(resource string, q *waitQueue) {
	m.mu.Lock()
	if len(q.waiters) == 0 {
		m.mu.Unlock()
		return
	}
	head := q.waiters[0]
	q.waiters = q.waiters[1:]

	var sub *redis.PubSub
	if len(q.waiters) == 0 && m.queues[resource] == q {
		delete(m.queues, resource)
		sub = q.sub
	}
	m.mu.Unlock()

	close(head.wake)
	if sub != nil {
		_ = sub.Close()
	}
}

// dequeue removes w without resuming it and unsubscribes once the queue is empty.
func (m *LockManager) dequeue(resource string, q *waitQueue, w *waiter) {
	m.mu.Lock()
	for i, candidate := range q.waiters {
		if candidate == w {
			q.waiters = append(q.waiters[:i:i], q.waiters[i+1:]...)
			break
		}
	}

	var sub *redis.PubSub
	if len(q.waiters) == 0 && m.queues[resource] == q {
		delete(m.queues, resource)
		sub = q.sub
	}
	m.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
}

func (m *LockManager) waiterCount(resource string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[resource]; ok {
		return len(q.waiters)
	}
	return 0
}

func newToken(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixNano(), uuid.New().String())
}

func outcome(contended bool) string {
	if contended {
		return "waited"
	}
	return "immediate"
}
