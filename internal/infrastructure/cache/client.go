package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/config"
)

const defaultPingTimeout = 5 * time.Second

// Client wraps a go-redis client.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	rdb *redis.Client
}

// Connect creates a Redis client and verifies it with a ping.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.Addr, err)
	}

	return &Client{rdb: rdb}, nil
}

// Redis returns the underlying client.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := c.rdb.Ping(checkCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
