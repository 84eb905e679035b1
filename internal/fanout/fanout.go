// Package fanout implements the routing decision for one accepted message:
// resolve recipients, group their online devices by node, publish one
// envelope per destination node, and fall back to push for fully offline
// recipients.
package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"courier/internal/middleware"
	"courier/internal/observability"
	"courier/internal/wire"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const nodeMapTimeout = 5 * time.Second

// MemberLister resolves the member set of a conversation.
type MemberLister interface {
	Members(ctx context.Context, conversationID string) ([]string, error)
}

// NodeMapper groups the users' online devices by node id.
type NodeMapper interface {
	NodeMap(ctx context.Context, userIDs []string, senderID, originDeviceID string) (map[string][]wire.Target, error)
}

// Publisher publishes one envelope body under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// PushNotifier emits a push event for one fully offline user.
type PushNotifier interface {
	Notify(ctx context.Context, userID string, payload wire.Message) error
}

// Distributor routes accepted messages to their destination nodes.
type Distributor struct {
	members  MemberLister
	presence NodeMapper
	broker   Publisher
	push     PushNotifier
}

// NewDistributor wires a distributor from its collaborators.
func NewDistributor(members MemberLister, presence NodeMapper, broker Publisher, push PushNotifier) *Distributor {
	return &Distributor{members: members, presence: presence, broker: broker, push: push}
}

// Distribute performs the full routing decision for one accepted message.
// Recipient resolution, presence lookup, and per-node publishing happen here;
// a failed presence lookup degrades to push for every non-sender recipient
// rather than failing the send.
func (d *Distributor) Distribute(ctx context.Context, msg wire.Message) error {
	ctx, span := observability.Tracer.Start(ctx, "fanout.Distribute", trace.WithAttributes(
		attribute.String("conversation_id", msg.ConversationID),
	))
	defer span.End()

	recipients, err := d.recipients(ctx, msg)
	if err != nil {
		return err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, nodeMapTimeout)
	nodeMap, err := d.presence.NodeMap(lookupCtx, recipients, msg.SenderID, msg.OriginDeviceID)
	cancel()
	if err != nil {
		// Routing must not fail the send: treat every recipient as
		// offline and let push carry the message.
		observability.PresenceLookups.WithLabelValues("error").Inc()
		middleware.Logger.ErrorContext(ctx, "fanout: presence lookup failed, falling back to push",
			slog.String("conversation_id", msg.ConversationID),
			slog.String("error", err.Error()),
		)
		nodeMap = map[string][]wire.Target{}
	} else {
		observability.PresenceLookups.WithLabelValues("ok").Inc()
	}

	if err := d.publish(ctx, msg, nodeMap); err != nil {
		return err
	}

	d.pushOffline(ctx, msg, recipients, nodeMap)
	return nil
}

// recipients resolves who should receive the message. A toUser hint skips the
// membership query: only the sender's other devices and that one user are
// addressed. Without it the whole conversation membership is the audience.
func (d *Distributor) recipients(ctx context.Context, msg wire.Message) ([]string, error) {
	switch {
	case msg.ToUser == msg.SenderID && msg.ToUser != "":
		return []string{msg.SenderID}, nil
	case msg.ToUser != "":
		return []string{msg.SenderID, msg.ToUser}, nil
	default:
		members, err := d.members.Members(ctx, msg.ConversationID)
		if err != nil {
			return nil, err
		}
		return members, nil
	}
}

// publish sends one envelope per destination node. The payload is identical
// across envelopes; only the target list differs.
func (d *Distributor) publish(ctx context.Context, msg wire.Message, nodeMap map[string][]wire.Target) error {
	for nodeID, targets := range nodeMap {
		body, err := json.Marshal(wire.NodeMessage{
			EventType:     wire.EventChatMessage,
			Payload:       msg,
			TargetDevices: targets,
		})
		if err != nil {
			return err
		}
		if err := d.broker.Publish(ctx, nodeID, body); err != nil {
			return err
		}
		observability.EnvelopesPublished.WithLabelValues(nodeID).Inc()
	}
	return nil
}

// pushOffline emits a push event for each recipient with no online device.
// The sender is never pushed; their originating device is online by
// definition.
func (d *Distributor) pushOffline(ctx context.Context, msg wire.Message, recipients []string, nodeMap map[string][]wire.Target) {
	online := make(map[string]struct{})
	for _, targets := range nodeMap {
		for _, t := range targets {
			online[t.UserID] = struct{}{}
		}
	}

	for _, userID := range recipients {
		if userID == msg.SenderID {
			continue
		}
		if _, ok := online[userID]; ok {
			continue
		}
		if err := d.push.Notify(ctx, userID, msg); err != nil {
			middleware.Logger.WarnContext(ctx, "fanout: push notify failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}
}
