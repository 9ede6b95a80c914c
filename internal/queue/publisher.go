package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/library-circulation/internal/circulation"
)

// Publisher sends circulation notifications to RabbitMQ.  It keeps one
// connection and channel open and redials after the broker drops them.
// Messages are persistent JSON on durable queues.
type Publisher struct {
	url string
	log *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ circulation.Notifier = (*Publisher)(nil)

// NewPublisher returns a Publisher for the broker at url.  No connection
// is made until the first publish.
func NewPublisher(url string, log *slog.Logger) *Publisher {
	return &Publisher{url: url, log: log}
}

// NotifyAvailable implements circulation.Notifier.
func (p *Publisher) NotifyAvailable(ctx context.Context, n circulation.AvailableNotice) error {
	return p.Publish(ctx, ReservationAvailableQueue, ReservationAvailableEvent{
		ReservationID:  n.ReservationID,
		UserID:         n.UserID,
		BookID:         n.BookID,
		BookTitle:      n.BookTitle,
		HoldToken:      n.HoldToken,
		AvailableUntil: n.AvailableUntil.UTC().Format(time.RFC3339),
		PublishedAt:    time.Now().UTC().Format(time.RFC3339),
	})
}

// NotifyOverdue implements circulation.Notifier.
func (p *Publisher) NotifyOverdue(ctx context.Context, n circulation.OverdueNotice) error {
	return p.Publish(ctx, LoanOverdueQueue, LoanOverdueEvent{
		LoanID:      n.LoanID,
		UserID:      n.UserID,
		BookID:      n.BookID,
		BookTitle:   n.BookTitle,
		DueDate:     n.DueDate.UTC().Format(time.DateOnly),
		OverdueDays: n.OverdueDays,
		FineAmount:  n.FineAmount,
		PublishedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// Publish marshals v and sends it to queue.
func (p *Publisher) Publish(ctx context.Context, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", queue, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	// Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		p.reset()
		return fmt.Errorf("queue declare %s: %w", queue, err)
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		p.reset()
		return fmt.Errorf("publish %s: %w", queue, err)
	}
	return nil
}

// Close drops the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

// channel returns the cached channel, dialling when needed.  p.mu is held.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	p.conn, p.ch = conn, ch
	p.log.Info("queue: publisher connected")
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
