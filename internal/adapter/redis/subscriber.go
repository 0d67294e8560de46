package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pscheid92/staffpulse/internal/app"
	"github.com/pscheid92/staffpulse/internal/domain"
	"github.com/pscheid92/staffpulse/internal/platform/correlation"
	goredis "github.com/redis/go-redis/v9"
)

type ingestHandler interface {
	Handle(ctx context.Context, source string, payload []byte) (domain.Delivery, error)
}

// Subscriber feeds events published on a Redis channel into the broadcast core.
type Subscriber struct {
	rdb     *goredis.Client
	channel string
	ingest  ingestHandler
}

func NewSubscriber(rdb *goredis.Client, channel string, ingest ingestHandler) *Subscriber {
	return &Subscriber{rdb: rdb, channel: channel, ingest: ingest}
}

// Run blocks until ctx is cancelled. go-redis reconnects the subscription on its own after
// network errors, so only the initial subscribe can fail.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.rdb.Subscribe(ctx, s.channel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}
	slog.InfoContext(ctx, "Redis ingest subscribed", "channel", s.channel)

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, msg.Payload)
		case <-ctx.Done():
			return nil
		}
	}
}

// handle ignores the result: the ingestor has already logged and counted failures.
func (s *Subscriber) handle(ctx context.Context, payload string) {
	if payload == "" {
		slog.WarnContext(ctx, "Empty ingest message", "channel", s.channel)
		return
	}
	ctx = correlation.WithID(ctx, correlation.NewID())
	_, _ = s.ingest.Handle(ctx, app.SourceRedis, []byte(payload))
}
