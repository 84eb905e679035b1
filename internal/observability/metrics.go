// Package observability provides metrics and tracing for the courier services.
package observability

import (
	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSockets is the gauge of device sockets attached to this node.
	ActiveSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "courier_active_sockets",
		Help: "Number of device websockets currently attached to this node",
	})

	// FramesDelivered counts payload frames written to local sockets.
	FramesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_frames_delivered_total",
		Help: "Total payload frames delivered to locally attached sockets",
	})

	// FramesDropped counts deliveries dropped by reason (stale socket, full buffer).
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_frames_dropped_total",
		Help: "Total deliveries dropped, by reason",
	}, []string{"reason"})

	// EnvelopesPublished counts node message envelopes published per destination node.
	EnvelopesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_envelopes_published_total",
		Help: "Total node message envelopes published, by destination node",
	}, []string{"node_id"})

	// PushEvents counts push-notification events emitted for fully offline users.
	PushEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_push_events_total",
		Help: "Total push notification events emitted for users with no online devices",
	})

	// MessagesPersisted counts messages landed in the durable store by the worker.
	MessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_messages_persisted_total",
		Help: "Total messages written to the durable store by the persistence worker",
	})

	// PoisonMessages counts undecodable payloads dropped from the persistence queue.
	PoisonMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_poison_messages_total",
		Help: "Total undecodable persistence payloads acked and dropped",
	})

	// BrokerReconnects counts broker reconnect attempts by component.
	BrokerReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_broker_reconnects_total",
		Help: "Total broker reconnect attempts, by component",
	}, []string{"component"})

	// RedisErrors counts Redis errors by command name.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_redis_errors_total",
		Help: "Total Redis errors, by command",
	}, []string{"operation"})

	// PresenceLookups counts presence node-map lookups by outcome.
	PresenceLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_presence_lookups_total",
		Help: "Total presence node-map lookups, by outcome",
	}, []string{"outcome"})
)

// NewFiberMetrics creates the Prometheus middleware for a service.
// Register it on the app and expose it with RegisterAt(app, "/metrics").
func NewFiberMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	return fiberprometheus.New(serviceName)
}
