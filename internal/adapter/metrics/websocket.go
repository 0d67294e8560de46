package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics holds Prometheus metrics for the client transports.
type WebSocketMetrics struct {
	ConnectionsRejected *prometheus.CounterVec
	FramesReceived      *prometheus.CounterVec
	MessageSendDuration prometheus.Histogram
	PingFailures        prometheus.Counter
	WriteFailures       prometheus.Counter
	PollSessionsExpired prometheus.Counter
}

// NewWebSocketMetrics creates and registers transport metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_rejected_total",
			Help:      "Connection attempts rejected before registration, by reason.",
		}, []string{"reason"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "frames_received_total",
			Help:      "Client frames received, by event.",
		}, []string{"event"}),
		MessageSendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "message_send_duration_seconds",
			Help:      "Time spent writing one frame to a client socket.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		PingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "ping_failures_total",
			Help:      "Pings that could not be written.",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "write_failures_total",
			Help:      "Message frames that could not be written; the connection is dropped after one.",
		}),
		PollSessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "polling",
			Name:      "sessions_expired_total",
			Help:      "Long-polling sessions dropped for not polling in time.",
		}),
	}

	reg.MustRegister(m.ConnectionsRejected, m.FramesReceived, m.MessageSendDuration, m.PingFailures, m.WriteFailures, m.PollSessionsExpired)
	return m
}
