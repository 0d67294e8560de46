package metrics

import "github.com/prometheus/client_golang/prometheus"

// Ingest results recorded by Observe.
const (
	ResultDispatched = "dispatched"
	ResultInvalid    = "invalid"
	ResultFailed     = "failed"
)

// IngestMetrics counts domain events arriving from producers.
type IngestMetrics struct {
	MessagesTotal  *prometheus.CounterVec
	PublishRetries *prometheus.CounterVec
}

// NewIngestMetrics creates and registers ingest metrics on the given registry.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	m := &IngestMetrics{
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Producer messages by source and result (dispatched, invalid, failed).",
		}, []string{"source", "result"}),
		PublishRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "publish_retries_total",
			Help:      "Retried publish attempts towards a broker.",
		}, []string{"source"}),
	}

	reg.MustRegister(m.MessagesTotal, m.PublishRetries)
	return m
}

// Observe records one ingest outcome.
func (m *IngestMetrics) Observe(source, result string) {
	m.MessagesTotal.WithLabelValues(source, result).Inc()
}
