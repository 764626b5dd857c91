package natsclient

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/EKaterinaTR/winm/errors"
	"github.com/EKaterinaTR/winm/pkg/retry"
)

// fetchWait bounds a single pull so the consumer loop can observe context
// cancellation between batches.
const fetchWait = 5 * time.Second

// EnsureStream creates or updates a durable file-backed stream for one
// queue subject.
func (c *Client) EnsureStream(ctx context.Context, name, subject string) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: []string{subject},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return errors.Transport(err, "Client", "EnsureStream", "create stream "+name)
	}
	return nil
}

// Publish publishes a message to a queue subject with at-least-once
// durability (the call returns after the stream acknowledges the write).
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}

	if _, err := js.Publish(ctx, subject, data); err != nil {
		return errors.Transport(err, "Client", "Publish", "publish to "+subject)
	}
	return nil
}

// Handler processes one queue message. A nil return acknowledges the
// message; an error terminates it without requeue. There is no retry at
// this layer.
type Handler func(ctx context.Context, data []byte) error

// Consume runs a consumer loop on the given stream until ctx is cancelled.
// Messages are pulled one at a time in delivery order and handed to handler;
// the durable name makes restarts resume where the previous run stopped.
// Transport failures back off at the fixed reconnect interval and retry
// indefinitely - the only retry policy in the system.
func (c *Client) Consume(ctx context.Context, stream, durable string, handler Handler) error {
	err := retry.Do(ctx, retry.Fixed(c.reconnectWait), func() error {
		if err := c.consumeUntilError(ctx, stream, durable, handler); err != nil {
			c.logger.Error("Consumer loop failed, reconnecting",
				"stream", stream,
				"durable", durable,
				"retry_in", c.reconnectWait,
				"error", err)
			if c.metrics != nil {
				c.metrics.QueueReconnects.Inc()
			}
			return err
		}
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return nil // clean shutdown
	}
	return err
}

// consumeUntilError pulls and processes messages until the consumer breaks
// or ctx is cancelled. Returns nil only on cancellation.
func (c *Client) consumeUntilError(ctx context.Context, stream, durable string, handler Handler) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Durable:       durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxAckPending: 1,
	})
	if err != nil {
		return errors.Transport(err, "Client", "Consume", "create consumer "+durable)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		batch, err := consumer.Fetch(1, jetstream.FetchMaxWait(fetchWait))
		if err != nil {
			return errors.Transport(err, "Client", "Consume", "fetch from "+stream)
		}

		for msg := range batch.Messages() {
			c.dispatch(ctx, msg, handler)
		}
		if err := batch.Error(); err != nil {
			return errors.Transport(err, "Client", "Consume", "batch error on "+stream)
		}
	}
}

// dispatch applies handler to one message and settles it: ack on success,
// terminate without requeue on any handler error.
func (c *Client) dispatch(ctx context.Context, msg jetstream.Msg, handler Handler) {
	if err := handler(ctx, msg.Data()); err != nil {
		c.logger.Error("Message handler failed, terminating message",
			"subject", msg.Subject(),
			"error", err)
		if termErr := msg.Term(); termErr != nil {
			c.logger.Error("Term failed", "subject", msg.Subject(), "error", termErr)
		}
		return
	}
	if ackErr := msg.Ack(); ackErr != nil {
		c.logger.Error("Ack failed", "subject", msg.Subject(), "error", ackErr)
	}
}

// Logger exposes the client logger so dependent loops log consistently.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}
