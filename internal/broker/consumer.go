package broker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"courier/internal/middleware"
	"courier/internal/observability"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Reconnect backoff bounds.
const (
	initialRetryDelay = time.Second
	maxRetryDelay     = 30 * time.Second
)

// Consumer binds one durable queue to a direct exchange and feeds every
// delivery to Handler. The connection is re-established on loss with
// exponential backoff; unacked deliveries are requeued by the broker.
type Consumer struct {
	URL        string
	Exchange   string
	Queue      string
	RoutingKey string
	// Component labels reconnect metrics ("node-consumer", "persistence").
	Component string
	// Handler must ack or nack the delivery.
	Handler func(context.Context, amqp.Delivery)
}

// Run consumes until the context is cancelled. It never returns an error for
// transient broker failures; it retries indefinitely.
func (c *Consumer) Run(ctx context.Context) {
	delay := initialRetryDelay
	for {
		err := c.consumeOnce(ctx, func() { delay = initialRetryDelay })
		if ctx.Err() != nil {
			middleware.Logger.Info("broker: consumer cancelled, closing", slog.String("queue", c.Queue))
			return
		}

		observability.BrokerReconnects.WithLabelValues(c.Component).Inc()
		middleware.Logger.Error("broker: consume failed, retrying",
			slog.String("queue", c.Queue),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context, onConnected func()) error {
	conn, err := amqp.Dial(c.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(c.Exchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	queue, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(queue.Name, c.RoutingKey, c.Exchange, false, nil); err != nil {
		return err
	}

	deliveries, err := ch.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	onConnected()
	middleware.Logger.Info("broker: consuming",
		slog.String("queue", c.Queue),
		slog.String("routing_key", c.RoutingKey),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.Handler(ctx, d)
		}
	}
}
