package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client is the time-series store for sensor readings and delivered water.
// Writes are batched and never block the caller; failures surface through
// the SetOnError callback. Every method tolerates a nil *Client so callers
// can keep one when InfluxDB is disabled.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	cfg      config.InfluxDBConfig

	mu        sync.RWMutex
	connected bool
	onError   func(err error)
}

// Connect pings the server at cfg.URL and returns a client writing to
// cfg.Bucket. It returns ErrDisabled without dialling when the integration
// is switched off.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg))
	if err := ping(ctx, client, connectTimeout); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		queryAPI:  client.QueryAPI(cfg.Org),
		cfg:       cfg,
		connected: true,
	}
	go c.forwardWriteErrors(c.writeAPI.Errors())
	return c, nil
}

// clientOptions sizes the write batch. FlushInterval is configured in
// seconds; the client library takes milliseconds.
func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := defaultBatchSize
	if cfg.BatchSize > 0 {
		batch = cfg.BatchSize
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	//nolint:gosec // both positive
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush.Milliseconds()))
}

func ping(ctx context.Context, client influxdb2.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errUnhealthy
	}
	return nil
}

func (c *Client) forwardWriteErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		cb := c.onError
		c.mu.RUnlock()
		if cb != nil {
			cb(err)
		}
	}
}

// Bucket is where readings are written and queried.
func (c *Client) Bucket() string {
	return c.cfg.Bucket
}

// SetOnError registers a callback for asynchronous write failures.
func (c *Client) SetOnError(cb func(err error)) {
	c.mu.Lock()
	c.onError = cb
	c.mu.Unlock()
}

// IsConnected reports whether Connect succeeded and Close has not run.
func (c *Client) IsConnected() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := ping(ctx, c.client, pingTimeout); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Flush sends buffered points now. It is a no-op once closed.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}

// Close flushes pending points and releases the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
