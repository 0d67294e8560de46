package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
)

// Publisher sends encoded events to the ingest channel.
type Publisher struct {
	rdb     *goredis.Client
	channel string
}

func NewPublisher(rdb *goredis.Client, channel string) *Publisher {
	return &Publisher{rdb: rdb, channel: channel}
}

func (p *Publisher) Name() string {
	return "redis"
}

func (p *Publisher) Publish(ctx context.Context, payload []byte) error {
	receivers, err := p.rdb.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.channel, err)
	}
	if receivers == 0 {
		slog.WarnContext(ctx, "Event published but no gateway is subscribed", "channel", p.channel)
	}
	return nil
}
