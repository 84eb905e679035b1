// Package persist contains the durable-write side of the message plane: the
// enqueuer that hands accepted messages to the persistence queue, and the
// worker that lands them in the hot window and the durable store.
package persist

import (
	"context"
	"encoding/json"
	"log/slog"

	"courier/internal/cache"
	"courier/internal/middleware"
	"courier/internal/models"
	"courier/internal/observability"
	"courier/internal/repository"
	"courier/internal/wire"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker topology for the persistence leg.
const (
	Exchange   = "persistence-exchange"
	Queue      = "persistence-queue"
	RoutingKey = "store"
)

// Publisher publishes one body under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Enqueuer hands accepted messages to the persistence queue. Enqueueing is
// independent of fan-out: a message is persisted even if routing fails.
type Enqueuer struct {
	broker Publisher
}

// NewEnqueuer returns an enqueuer over the given publisher.
func NewEnqueuer(broker Publisher) *Enqueuer {
	return &Enqueuer{broker: broker}
}

// Enqueue publishes the message for durable storage.
func (e *Enqueuer) Enqueue(ctx context.Context, msg wire.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return e.broker.Publish(ctx, RoutingKey, body)
}

// Worker drains the persistence queue: each message is appended to the
// conversation's hot window and inserted into the durable store.
type Worker struct {
	window *cache.HotWindow
	repo   repository.ChatRepository
}

// NewWorker wires a worker from its stores.
func NewWorker(window *cache.HotWindow, repo repository.ChatRepository) *Worker {
	return &Worker{window: window, repo: repo}
}

// HandleDelivery lands one queued message. Undecodable payloads are acked and
// dropped so they cannot wedge the queue. A hot-window failure is logged but
// does not block the durable write; a failed durable write nacks with requeue
// so the message is retried.
func (w *Worker) HandleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var msg wire.Message
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		observability.PoisonMessages.Inc()
		middleware.Logger.ErrorContext(ctx, "persist: undecodable payload, dropping",
			slog.String("error", err.Error()))
		_ = delivery.Ack(false)
		return
	}

	conversationID, err := uuid.Parse(msg.ConversationID)
	if err != nil {
		observability.PoisonMessages.Inc()
		middleware.Logger.ErrorContext(ctx, "persist: invalid conversation id, dropping",
			slog.String("conversation_id", msg.ConversationID))
		_ = delivery.Ack(false)
		return
	}
	senderID, err := uuid.Parse(msg.SenderID)
	if err != nil {
		observability.PoisonMessages.Inc()
		middleware.Logger.ErrorContext(ctx, "persist: invalid sender id, dropping",
			slog.String("sender_id", msg.SenderID))
		_ = delivery.Ack(false)
		return
	}

	if err := w.window.Append(ctx, msg.ConversationID, delivery.Body, msg.SentAt); err != nil {
		// The hot window is a cache; the durable write still proceeds.
		middleware.Logger.ErrorContext(ctx, "persist: hot window append failed",
			slog.String("conversation_id", msg.ConversationID),
			slog.String("error", err.Error()),
		)
	}

	row := &models.Message{
		ConversationID: conversationID,
		UserID:         senderID,
		Content:        msg.Content,
		Type:           msg.Type,
		SentAt:         wire.SecondsToTime(msg.SentAt),
	}
	if err := w.repo.CreateMessage(ctx, row); err != nil {
		middleware.Logger.ErrorContext(ctx, "persist: durable write failed, requeueing",
			slog.String("conversation_id", msg.ConversationID),
			slog.String("error", err.Error()),
		)
		_ = delivery.Nack(false, true)
		return
	}

	observability.MessagesPersisted.Inc()
	_ = delivery.Ack(false)
}
