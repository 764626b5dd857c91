// Package natsclient provides a client for managing NATS JetStream
// connections. The client is constructed explicitly and passed into each
// component at startup; there are no connection singletons.
package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/EKaterinaTR/winm/errors"
	"github.com/EKaterinaTR/winm/metric"
)

// Client manages a NATS connection and its JetStream context.
type Client struct {
	url           string
	clientName    string
	reconnectWait time.Duration
	drainTimeout  time.Duration
	logger        *slog.Logger
	metrics       *metric.Metrics

	mu     sync.RWMutex
	conn   *nats.Conn
	js     jetstream.JetStream
	closed atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for connection lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics wires connection gauges and reconnect counters.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithReconnectWait sets the fixed interval between reconnection attempts.
func WithReconnectWait(d time.Duration) Option {
	return func(c *Client) { c.reconnectWait = d }
}

// WithName sets the client name reported to the server.
func WithName(name string) Option {
	return func(c *Client) { c.clientName = name }
}

// NewClient creates a NATS client for the given server URL.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:           url,
		reconnectWait: 5 * time.Second,
		drainTimeout:  30 * time.Second,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes the connection and initializes JetStream. The
// underlying connection reconnects indefinitely at the configured fixed
// interval; callers never see transport failures directly.
func (c *Client) Connect(_ context.Context) error {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(c.reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("NATS disconnected", "error", err)
			if c.metrics != nil {
				c.metrics.QueueConnected.Set(0)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
			if c.metrics != nil {
				c.metrics.QueueConnected.Set(1)
				c.metrics.QueueReconnects.Inc()
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.logger.Info("NATS connection closed")
			if c.metrics != nil {
				c.metrics.QueueConnected.Set(0)
			}
		}),
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}

	conn, err := nats.Connect(c.url, opts...)
	if err != nil {
		return errors.Transport(err, "Client", "Connect", "establish connection")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return errors.Transport(err, "Client", "Connect", "initialize JetStream")
	}

	c.mu.Lock()
	c.conn = conn
	c.js = js
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.QueueConnected.Set(1)
	}
	c.logger.Info("Connected to NATS", "url", c.url)
	return nil
}

// Close drains and closes the connection. Safe to call once.
func (c *Client) Close(_ context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	drainDone := make(chan error, 1)
	go func() { drainDone <- conn.Drain() }()

	select {
	case err := <-drainDone:
		if err != nil {
			c.logger.Error("Drain failed, forcing close", "error", err)
			conn.Close()
			return errors.Wrap(err, "Client", "Close", "drain connection")
		}
	case <-time.After(c.drainTimeout):
		c.logger.Error("Drain timeout, forcing close", "timeout", c.drainTimeout)
		conn.Close()
	}
	return nil
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, errors.Transport(errors.ErrNoConnection, "Client", "JetStream", "JetStream not initialized")
	}
	return c.js, nil
}

// KeyValue returns the named KV bucket, creating it if absent.
func (c *Client) KeyValue(ctx context.Context, bucket string) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket})
	if err != nil {
		// Lost a create race: the bucket now exists, use it.
		if existing, getErr := js.KeyValue(ctx, bucket); getErr == nil {
			return existing, nil
		}
		return nil, errors.Transport(err, "Client", "KeyValue", "create bucket "+bucket)
	}
	c.logger.Info("Created KV bucket", "bucket", bucket)
	return kv, nil
}
