// Package metrics exposes Prometheus instrumentation for the chat server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveSockets tracks WebSocket connections currently registered
	// with a room actor.
	ActiveSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatsemble",
		Name:      "active_sockets",
		Help:      "Number of live WebSocket connections across all rooms.",
	})

	// ActiveRooms tracks room actors currently loaded in the registry.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatsemble",
		Name:      "active_rooms",
		Help:      "Number of room actors currently resident in memory.",
	})

	// MessagesPersisted counts messages accepted and written to the store.
	MessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsemble",
		Name:      "messages_persisted_total",
		Help:      "Total chat messages persisted.",
	})

	// FramesBroadcast counts frames fanned out to room sockets.
	FramesBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsemble",
		Name:      "frames_broadcast_total",
		Help:      "Total frames written during room broadcasts.",
	})

	// FramesDropped counts inbound frames rejected before handling.
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatsemble",
		Name:      "frames_dropped_total",
		Help:      "Inbound frames dropped, by reason.",
	}, []string{"reason"})

	// AgentDispatches counts agent pipeline invocations.
	AgentDispatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsemble",
		Name:      "agent_dispatches_total",
		Help:      "Total agent response pipelines started.",
	})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
