package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the chess core.
//
// Naming convention: namespace_subsystem_name
// - namespace: chess (application-level grouping)
// - subsystem: websocket, room, game (feature-level grouping)
//
// Metric Types:
// - Gauge: current state (connections, active games, queue depth)
// - Counter: cumulative events (messages routed, moves, errors)
// - Histogram: latency distributions (message handling time)

var (
	// ActiveConnections tracks the current number of registered sockets.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chess",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveGames tracks the number of games on the tick scheduler.
	ActiveGames = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chess",
		Subsystem: "game",
		Name:      "games_active",
		Help:      "Current number of active games",
	})

	// QueueDepth tracks matchmaking queue length per queue.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chess",
		Subsystem: "room",
		Name:      "queue_depth",
		Help:      "Number of users waiting in each matchmaking queue",
	}, []string{"queue"})

	// MessagesRouted counts dispatched inbound frames by type and status.
	MessagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chess",
		Subsystem: "websocket",
		Name:      "messages_total",
		Help:      "Total inbound WebSocket messages routed",
	}, []string{"message_type", "status"})

	// MovesApplied counts accepted moves by outcome of the resulting state.
	MovesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chess",
		Subsystem: "game",
		Name:      "moves_total",
		Help:      "Total accepted moves",
	}, []string{"result"})

	// MessageProcessingDuration tracks time spent handling inbound frames.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chess",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"message_type"})

	// CircuitBreakerState exposes the hot-store breaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chess",
		Subsystem: "store",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per backend",
	}, []string{"backend"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
