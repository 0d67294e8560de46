// Package eventpublisher sends domain events to the brokers the gateway ingests from.
package eventpublisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pscheid92/staffpulse/internal/domain"
)

// Sink is one broker transport, implemented by the redis and kafka adapters.
type Sink interface {
	Name() string
	Publish(ctx context.Context, payload []byte) error
}

// EventPublisher encodes an event once and hands it to every configured sink.
type EventPublisher struct {
	sinks []Sink
}

func New(sinks ...Sink) *EventPublisher {
	return &EventPublisher{sinks: sinks}
}

// Publish sends event to all sinks. A failing sink does not stop the others; the joined error
// names each sink that failed.
func (ep *EventPublisher) Publish(ctx context.Context, event domain.Event) error {
	if len(ep.sinks) == 0 {
		return errors.New("no broker configured")
	}

	payload, err := domain.EncodeEvent(event)
	if err != nil {
		return err
	}
	return ep.PublishRaw(ctx, payload)
}

// PublishRaw validates an already encoded payload and sends it to all sinks.
func (ep *EventPublisher) PublishRaw(ctx context.Context, payload []byte) error {
	if len(ep.sinks) == 0 {
		return errors.New("no broker configured")
	}
	event, err := domain.DecodeEvent(payload)
	if err != nil {
		return fmt.Errorf("refusing to publish invalid event: %w", err)
	}

	var errs []error
	for _, sink := range ep.sinks {
		if err := sink.Publish(ctx, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		slog.InfoContext(ctx, "Event published", "sink", sink.Name(), "event", event.EventType())
	}
	return errors.Join(errs...)
}
