package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one message body.  Returning an error wrapped with
// Retry requeues the message; any other error drops it.
type Handler func(ctx context.Context, body []byte) error

type retryable struct{ err error }

func (r retryable) Error() string { return r.err.Error() }
func (r retryable) Unwrap() error { return r.err }

// Retry marks err as worth another delivery attempt.
func Retry(err error) error {
	if err == nil {
		return nil
	}
	return retryable{err: err}
}

// IsRetry reports whether err was marked with Retry.
func IsRetry(err error) bool {
	var r retryable
	return errors.As(err, &r)
}

// Consumer reads one durable queue and feeds it to a Handler.  It
// redials with exponential backoff when the broker goes away.
type Consumer struct {
	URL      string
	Queue    string
	Prefetch int
	Handler  Handler
	Log      *slog.Logger
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Log.Warn("queue: failed to dial broker", "queue", c.Queue, "err", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.Warn("queue: consume loop ended; reconnecting", "queue", c.Queue, "err", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	prefetch := c.Prefetch
	if prefetch <= 0 {
		prefetch = 50
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		c.Log.Warn("queue: set QoS failed", "queue", c.Queue, "err", err)
	}
	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.Log.Info("queue: consuming", "queue", c.Queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.deliver(ctx, d)
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	err := c.Handler(ctx, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case IsRetry(err) && !d.Redelivered:
		c.Log.Warn("queue: handler failed; requeueing", "queue", c.Queue, "err", err)
		_ = d.Nack(false, true)
	default:
		c.Log.Error("queue: handler failed; dropping message", "queue", c.Queue, "err", err)
		_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
