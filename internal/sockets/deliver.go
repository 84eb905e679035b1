package sockets

import (
	"context"
	"encoding/json"
	"log/slog"

	"courier/internal/middleware"
	"courier/internal/observability"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Deliverer consumes this node's queue and writes payload frames to the
// targeted local sockets.
type Deliverer struct {
	table *Table
}

// NewDeliverer returns a deliverer over the given socket table.
func NewDeliverer(table *Table) *Deliverer {
	return &Deliverer{table: table}
}

// HandleDelivery processes one node-queue envelope. The payload is serialized
// once and fanned out to every targeted device still attached here. Targets
// that disconnected since the routing decision are skipped silently; the
// envelope is acked after all attempts so a dead socket never wedges the
// queue.
func (d *Deliverer) HandleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var envelope struct {
		EventType     string          `json:"event_type"`
		Payload       json.RawMessage `json:"payload"`
		TargetDevices []struct {
			UserID   string `json:"user_id"`
			DeviceID string `json:"device_id"`
		} `json:"target_devices"`
	}
	if err := json.Unmarshal(delivery.Body, &envelope); err != nil {
		observability.PoisonMessages.Inc()
		middleware.Logger.ErrorContext(ctx, "deliver: undecodable envelope, dropping",
			slog.String("error", err.Error()))
		_ = delivery.Ack(false)
		return
	}

	frame := []byte(envelope.Payload)
	for _, target := range envelope.TargetDevices {
		client := d.table.Lookup(target.UserID, target.DeviceID)
		if client == nil {
			continue
		}
		if client.TrySend(frame) {
			observability.FramesDelivered.Inc()
		}
	}

	_ = delivery.Ack(false)
}
