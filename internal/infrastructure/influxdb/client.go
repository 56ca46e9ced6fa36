package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"go.uber.org/atomic"

	"github.com/nerrad567/rfm-gateway/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	// Radio traffic is sparse, a small batch keeps points fresh.
	defaultBatchSize    = 20
	defaultFlushSeconds = 5
)

// Client records uplink telemetry in InfluxDB.
//
// Every reading the gateway forwards from the radio side can also be kept
// as a time-series point. Writes never block the control loop: points are
// batched by the library and flushed in the background. Failed batches are
// counted and the latest one is reported by the next HealthCheck, since a
// server can answer pings while rejecting writes (bad token or bucket).
//
// All methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	closed   atomic.Bool
	failures atomic.Uint64

	mu      sync.Mutex
	lastErr error
	onError func(err error)
}

// Connect creates the client, pings the server and opens the batched
// write API.
//
// Parameters:
//   - cfg: InfluxDB configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrDisabled, or ErrConnectionFailed if the server does not answer
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))
	if err := ping(context.Background(), client, connectTimeout); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go func(errs <-chan error) {
		for err := range errs {
			c.recordWriteError(err)
		}
	}(c.writeAPI.Errors())

	return c, nil
}

// writeOptions maps the batch settings, filling in gateway defaults.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = defaultFlushSeconds
	}

	// #nosec G115 -- both values are positive here
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush) * uint(time.Second/time.Millisecond))
}

func ping(ctx context.Context, client influxdb2.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("server not healthy")
	}
	return nil
}

func (c *Client) recordWriteError(err error) {
	c.failures.Inc()

	c.mu.Lock()
	c.lastErr = err
	callback := c.onError
	c.mu.Unlock()

	if callback != nil {
		callback(err)
	}
}

// takeWriteError returns and clears the latest asynchronous write failure.
func (c *Client) takeWriteError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.lastErr
	c.lastErr = nil
	return err
}

// Close flushes pending points and closes the underlying client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.closed.Swap(true) {
		return nil
	}

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck reports a write failure seen since the previous check, then
// pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.closed.Load() {
		return ErrNotConnected
	}
	if err := c.takeWriteError(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if err := ping(ctx, c.client, pingTimeout); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether the client still accepts points.
func (c *Client) IsConnected() bool {
	return !c.closed.Load()
}

// WriteFailures returns the number of batches the server rejected.
func (c *Client) WriteFailures() uint64 {
	return c.failures.Load()
}

// SetOnError sets a callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush blocks until buffered points are written. No-op after Close.
func (c *Client) Flush() {
	if c.writeAPI == nil || c.closed.Load() {
		return
	}
	c.writeAPI.Flush()
}
