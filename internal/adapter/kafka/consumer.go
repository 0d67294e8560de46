package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/pscheid92/staffpulse/internal/app"
	"github.com/pscheid92/staffpulse/internal/domain"
	"github.com/pscheid92/staffpulse/internal/platform/correlation"
	"github.com/pscheid92/staffpulse/internal/platform/retry"
)

type ingestHandler interface {
	Handle(ctx context.Context, source string, payload []byte) (domain.Delivery, error)
}

// Consumer joins a consumer group and feeds every record on the topic into the broadcast core.
type Consumer struct {
	group   sarama.ConsumerGroup
	topic   string
	handler *groupHandler
	policy  retry.Policy
}

// consumePolicy bounds how long Run rides out a broker outage. The budget starts over after
// every successful Consume call.
func consumePolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    10,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

func NewConsumer(brokers []string, groupID, topic string, ingest ingestHandler) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, newSaramaConfig("staffpulse-gateway"))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}
	return newConsumer(group, topic, ingest, consumePolicy()), nil
}

func newConsumer(group sarama.ConsumerGroup, topic string, ingest ingestHandler, policy retry.Policy) *Consumer {
	c := &Consumer{group: group, topic: topic, handler: &groupHandler{ingest: ingest}, policy: policy}
	c.policy.OnRetry = c.onRetry
	return c
}

// Run consumes until ctx is cancelled. Consume returns on every rebalance, so it is called in a
// loop. Consume errors are retried with backoff; Run only gives up once the retry budget is spent.
func (c *Consumer) Run(ctx context.Context) error {
	go c.logErrors(ctx)

	slog.InfoContext(ctx, "Kafka ingest consuming", "topic", c.topic)
	for {
		err := retry.DoVoid(ctx, c.policy, classifyConsumeError, func() error {
			return c.group.Consume(ctx, []string{c.topic}, c.handler)
		})
		if err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka consume: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) onRetry(attempt int, err error, backoff time.Duration) {
	slog.Warn("Retrying kafka consume", "topic", c.topic, "attempt", attempt, "retry_in", backoff, "error", err)
}

// classifyConsumeError stops once the group is closed; everything else may be a broker outage.
func classifyConsumeError(err error) retry.Action {
	if errors.Is(err, sarama.ErrClosedConsumerGroup) {
		return retry.Stop
	}
	return retry.Retry
}

func (c *Consumer) logErrors(ctx context.Context) {
	for {
		select {
		case err, ok := <-c.group.Errors():
			if !ok {
				return
			}
			slog.WarnContext(ctx, "Kafka consumer group error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) Close() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer group: %w", err)
	}
	return nil
}

// groupHandler implements sarama.ConsumerGroupHandler.
type groupHandler struct {
	ingest ingestHandler
}

func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	slog.Info("Kafka partitions assigned", "member_id", session.MemberID(), "claims", session.Claims())
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim marks every record, including ones that fail to decode or dispatch. A bad
// record must not stall its partition and clients have no use for stale replays.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			ctx := correlation.WithID(session.Context(), recordID(msg))
			_, _ = h.ingest.Handle(ctx, app.SourceKafka, msg.Value)
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func recordID(msg *sarama.ConsumerMessage) string {
	return msg.Topic + "/" + strconv.Itoa(int(msg.Partition)) + "/" + strconv.FormatInt(msg.Offset, 10)
}
