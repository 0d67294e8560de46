package app

import (
	"context"
	"log/slog"

	"github.com/pscheid92/staffpulse/internal/adapter/metrics"
	"github.com/pscheid92/staffpulse/internal/domain"
	apperrors "github.com/pscheid92/staffpulse/internal/platform/errors"
)

// Ingest sources used as the metrics label.
const (
	SourceRedis = "redis"
	SourceKafka = "kafka"
	SourceHTTP  = "http"
)

// Ingestor turns producer payloads into broadcasts. Broker adapters call Handle for every
// message and keep consuming whatever it returns.
type Ingestor struct {
	dispatcher domain.Dispatcher
	metrics    *metrics.IngestMetrics
}

func NewIngestor(dispatcher domain.Dispatcher, m *metrics.IngestMetrics) *Ingestor {
	return &Ingestor{dispatcher: dispatcher, metrics: m}
}

// Handle decodes payload and dispatches it. Undecodable payloads return a validation error,
// dispatch failures are returned as they came from the dispatcher.
func (i *Ingestor) Handle(ctx context.Context, source string, payload []byte) (domain.Delivery, error) {
	event, err := domain.DecodeEvent(payload)
	if err != nil {
		i.observe(source, metrics.ResultInvalid)
		slog.WarnContext(ctx, "Dropping undecodable event", "source", source, "error", err, "size", len(payload))
		return domain.Delivery{}, apperrors.ValidationError(err.Error())
	}

	delivery, err := i.dispatcher.Broadcast(ctx, event)
	if err != nil {
		i.observe(source, metrics.ResultFailed)
		slog.ErrorContext(ctx, "Failed to dispatch event", "source", source, "event", event.EventType(), "error", err)
		return domain.Delivery{}, err
	}

	i.observe(source, metrics.ResultDispatched)
	slog.DebugContext(ctx, "Event ingested",
		"source", source,
		"event", event.EventType(),
		"room", delivery.Room,
		"delivered", delivery.Delivered,
	)
	return delivery, nil
}

func (i *Ingestor) observe(source, result string) {
	if i.metrics != nil {
		i.metrics.Observe(source, result)
	}
}
