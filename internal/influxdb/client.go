package influxdb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/config"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/metrics"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/models"
)

// WriteError wraps a failed write and reports whether retrying might succeed
type WriteError struct {
	Retryable bool
	Err       error
}

func (e *WriteError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("influxdb write failed (%s): %v", kind, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsRetryable reports whether the write may succeed if attempted again
func (e *WriteError) IsRetryable() bool { return e.Retryable }

// Client represents an InfluxDB v2 client
type Client struct {
	client   influxdb2.Client
	blocking api.WriteAPIBlocking
	writeAPI api.WriteAPI
	config   config.InfluxDBConfig

	mu     sync.Mutex
	closed bool
}

// NewClient initializes the InfluxDB v2 client and verifies connectivity
func NewClient(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	opts := influxdb2.DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(uint(cfg.BatchSize))
	}
	if cfg.BatchTimeout > 0 {
		opts.SetFlushInterval(uint(cfg.BatchTimeout.Milliseconds()))
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	// Add a health check to verify the server before relaying anything
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != domain.HealthCheckStatusPass {
		client.Close()
		return nil, fmt.Errorf("InfluxDB is not healthy: status %s", health.Status)
	}

	c := &Client{
		client: client,
		config: cfg,
	}
	if cfg.Batch {
		c.writeAPI = client.WriteAPI(cfg.Org, cfg.Bucket)
		go c.drainErrors()
	} else {
		c.blocking = client.WriteAPIBlocking(cfg.Org, cfg.Bucket)
	}

	log.Printf("Connected to InfluxDB at %s (bucket %s, batch=%v)", cfg.URL, cfg.Bucket, cfg.Batch)
	return c, nil
}

// Write persists one point. In batch mode the point is queued and errors
// surface asynchronously through the log and the write error counter.
func (c *Client) Write(ctx context.Context, p models.SensorPoint) error {
	point := write.NewPoint(p.Measurement, p.Tags, p.Fields, p.Time)

	if c.writeAPI != nil {
		c.writeAPI.WritePoint(point)
		return nil
	}

	// Writes are serialised so points from one topic keep their arrival order
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.blocking.WritePoint(ctx, point); err != nil {
		return &WriteError{Retryable: Classify(err), Err: err}
	}
	return nil
}

func (c *Client) drainErrors() {
	for err := range c.writeAPI.Errors() {
		log.Printf("Error writing batch to InfluxDB: %v", err)
		metrics.WriteErrors.WithLabelValues("batch", strconv.FormatBool(Classify(err))).Inc()
	}
}

// Health reports whether the server is reachable and passing its checks
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return err
	}
	if health.Status != domain.HealthCheckStatusPass {
		return fmt.Errorf("influxdb status %s", health.Status)
	}
	return nil
}

// Close flushes pending writes and closes the InfluxDB client. It is safe
// to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	if c.writeAPI != nil {
		c.writeAPI.Flush()
	}
	c.client.Close()
	log.Println("InfluxDB client closed")
	return nil
}

// Classify reports whether err is transient: throttling, server side
// failures and network errors are retryable, everything else is not.
func Classify(err error) bool {
	var httpErr *influxhttp.Error
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == 429 || httpErr.StatusCode >= 500 {
			return true
		}
		if httpErr.StatusCode != 0 {
			return false
		}
		err = httpErr.Err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
