package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Key templates
const (
	// lock:{resource} -> holder token
	keyLock = "lock:%s"

	// lock:release:{resource} -> pub/sub channel announcing a release
	keyLockReleaseChannel = "lock:release:%s"

	// sorted set of order ids scored by cancellation due time (unix millis)
	KeyOrderCancellations = "order:cancellations"
)

// Client wraps the go-redis client shared by the lock manager and the scheduler
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and verifies connectivity
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func lockKey(resource string) string {
	return fmt.Sprintf(keyLock, resource)
}

func releaseChannel(resource string) string {
	return fmt.Sprintf(keyLockReleaseChannel, resource)
}
