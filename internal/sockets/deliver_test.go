package sockets

import (
	"context"
	"encoding/json"
	"testing"

	"courier/internal/wire"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcknowledger) Ack(_ uint64, _ bool) error { f.acked = true; return nil }
func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}
func (f *fakeAcknowledger) Reject(_ uint64, _ bool) error { return nil }

func envelopeBody(t *testing.T, targets ...wire.Target) []byte {
	body, err := json.Marshal(wire.NodeMessage{
		EventType: wire.EventChatMessage,
		Payload: wire.Message{
			ConversationID: "c1",
			SenderID:       "alice",
			Content:        "hello",
			Type:           wire.TypeText,
			SentAt:         1000,
		},
		TargetDevices: targets,
	})
	require.NoError(t, err)
	return body
}

func TestHandleDeliveryWritesToTargets(t *testing.T) {
	table := NewTable()
	bobPhone := testClient(table, "bob", "phone")
	bobTablet := testClient(table, "bob", "tablet")
	table.Register(bobPhone)
	table.Register(bobTablet)

	ack := &fakeAcknowledger{}
	d := NewDeliverer(table)
	d.HandleDelivery(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body: envelopeBody(t,
			wire.Target{UserID: "bob", DeviceID: "phone"},
			wire.Target{UserID: "bob", DeviceID: "tablet"},
		),
	})

	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)

	for _, client := range []*Client{bobPhone, bobTablet} {
		frame := <-client.Send
		var msg wire.Message
		require.NoError(t, json.Unmarshal(frame, &msg))
		assert.Equal(t, "hello", msg.Content)
		assert.Equal(t, "alice", msg.SenderID)
	}
}

func TestHandleDeliverySkipsDetachedTargets(t *testing.T) {
	table := NewTable()
	attached := testClient(table, "bob", "phone")
	table.Register(attached)

	ack := &fakeAcknowledger{}
	d := NewDeliverer(table)
	d.HandleDelivery(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body: envelopeBody(t,
			wire.Target{UserID: "bob", DeviceID: "phone"},
			wire.Target{UserID: "carol", DeviceID: "phone"},
		),
	})

	// The stale target is skipped silently; the envelope is still acked.
	assert.True(t, ack.acked)
	assert.Len(t, attached.Send, 1)
}

func TestHandleDeliveryPoisonEnvelope(t *testing.T) {
	ack := &fakeAcknowledger{}
	d := NewDeliverer(NewTable())
	d.HandleDelivery(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte("{not json"),
	})

	// Undecodable envelopes are dropped, never requeued.
	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
}
