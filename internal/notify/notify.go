// Package notify announces finished generations to other services.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/cadence/pkg/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher delivers a terminal generation update.
type Publisher interface {
	Publish(ctx context.Context, update models.GenerationUpdate) error
	Close() error
}

// Nop discards every update. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, models.GenerationUpdate) error { return nil }
func (Nop) Close() error                                           { return nil }

// RoutingKey returns the topic routing key for u, e.g. "generation.completed".
func RoutingKey(u models.GenerationUpdate) string {
	return "generation." + string(u.Status)
}

// channel is the subset of *amqp.Channel used for publishing.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes updates as JSON to a durable topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	now      func() time.Time
}

// DialAMQP connects to url and declares exchange.
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %q: %w", exchange, err)
	}

	p := newAMQPPublisher(ch, exchange)
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch channel, exchange string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange, now: time.Now}
}

func (p *AMQPPublisher) Publish(ctx context.Context, u models.GenerationUpdate) error {
	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encoding update: %w", err)
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(u), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    u.ID,
		Timestamp:    p.now().UTC(),
		Type:         models.EventGenerationUpdate,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing %s: %w", u.ID, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}

// Hook adapts pub to a generation terminal hook. Publishing is retried with
// capped exponential backoff; failures are logged, never propagated.
func Hook(pub Publisher, timeout time.Duration) func(context.Context, models.GenerationUpdate) {
	return func(ctx context.Context, u models.GenerationUpdate) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := publishWithRetry(ctx, pub, u); err != nil {
			slog.Warn("failed to publish generation event", "job_id", u.ID, "status", u.Status, "error", err)
		}
	}
}

func publishWithRetry(ctx context.Context, pub Publisher, u models.GenerationUpdate) error {
	const (
		baseDelay   = 100 * time.Millisecond
		maxDelay    = 2 * time.Second
		maxAttempts = 3
	)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lastErr = pub.Publish(ctx, u); lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}

		backoff := baseDelay << (attempt - 1)
		if backoff > maxDelay {
			backoff = maxDelay
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("publish cancelled: %w", errors.Join(lastErr, ctx.Err()))
		}
	}
	return fmt.Errorf("publish failed after %d attempts: %w", maxAttempts, lastErr)
}
