package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/pscheid92/staffpulse/internal/adapter/metrics"
	"github.com/pscheid92/staffpulse/internal/platform/retry"
	"github.com/tidwall/gjson"
)

// Producer publishes encoded events to the ingest topic. Records are keyed by organization so
// one organization's events stay ordered within a partition.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	policy   retry.Policy
	metrics  *metrics.IngestMetrics
}

func NewProducer(brokers []string, topic string, m *metrics.IngestMetrics) (*Producer, error) {
	sp, err := sarama.NewSyncProducer(brokers, newSaramaConfig("staffpulse-emit"))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return newProducer(sp, topic, retry.DefaultPolicy(), m), nil
}

func newProducer(sp sarama.SyncProducer, topic string, policy retry.Policy, m *metrics.IngestMetrics) *Producer {
	p := &Producer{producer: sp, topic: topic, policy: policy, metrics: m}
	p.policy.OnRetry = p.onRetry
	return p
}

func (p *Producer) Name() string {
	return "kafka"
}

func (p *Producer) Publish(ctx context.Context, payload []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(gjson.GetBytes(payload, "type").String())},
		},
	}
	if org := gjson.GetBytes(payload, "organization_id").String(); org != "" {
		msg.Key = sarama.StringEncoder(org)
	}

	err := retry.DoVoid(ctx, p.policy, classifyProduceError, func() error {
		partition, offset, err := p.producer.SendMessage(msg)
		if err != nil {
			return err
		}
		slog.DebugContext(ctx, "Event produced", "topic", p.topic, "partition", partition, "offset", offset)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.topic, err)
	}
	return nil
}

func (p *Producer) onRetry(attempt int, err error, backoff time.Duration) {
	if p.metrics != nil {
		p.metrics.PublishRetries.WithLabelValues("kafka").Inc()
	}
	slog.Warn("Retrying kafka publish", "topic", p.topic, "attempt", attempt, "retry_in", backoff, "error", err)
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}

// classifyProduceError stops on errors a retry cannot fix.
func classifyProduceError(err error) retry.Action {
	switch {
	case errors.Is(err, sarama.ErrMessageSizeTooLarge),
		errors.Is(err, sarama.ErrInvalidMessage),
		errors.Is(err, sarama.ErrTopicAuthorizationFailed),
		errors.Is(err, sarama.ErrClosedClient):
		return retry.Stop
	default:
		return retry.Retry
	}
}
