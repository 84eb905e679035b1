// Package broker wraps the RabbitMQ connections used by the courier
// processes: one lazily-created publisher set and one consumer set per
// process, re-established on loss.
package broker

import (
	"context"
	"fmt"
	"sync"

	"courier/internal/middleware"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher owns one connection/channel pair used for all publishes to a
// single direct exchange. The channel is declared lazily under a mutex and
// re-declared after a loss; publishes are persistent.
type Publisher struct {
	mu       sync.Mutex
	url      string
	exchange string
	conn     *amqp.Connection
	ch       *amqp.Channel
}

// NewPublisher creates a publisher for the given exchange. No connection is
// opened until the first publish.
func NewPublisher(url, exchange string) *Publisher {
	return &Publisher{url: url, exchange: exchange}
}

// channel returns a usable channel with the exchange declared, dialing or
// re-dialing as needed.
func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		middleware.Logger.Info("broker: establishing publisher connection", "exchange", p.exchange)
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("dial broker: %w", err)
		}
		p.conn = conn
		p.ch = nil
	}

	if p.ch == nil || p.ch.IsClosed() {
		ch, err := p.conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("open channel: %w", err)
		}
		if err := ch.ExchangeDeclare(p.exchange, "direct", true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("declare exchange %s: %w", p.exchange, err)
		}
		p.ch = ch
	}

	return p.ch, nil
}

func (p *Publisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
}

// Publish sends one persistent message with the given routing key. A publish
// that fails on a stale channel is retried once on a fresh one.
func (p *Publisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	for attempt := 0; attempt < 2; attempt++ {
		ch, err := p.channel()
		if err != nil {
			return err
		}
		err = ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
		if err == nil {
			return nil
		}
		p.reset()
		if attempt == 1 {
			return fmt.Errorf("publish to %s/%s: %w", p.exchange, routingKey, err)
		}
	}
	return nil
}

// Close tears down the publisher connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn.Close()
	}
	return nil
}
