package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pscheid92/staffpulse/internal/adapter/metrics"
	"github.com/pscheid92/staffpulse/internal/platform/retry"
	goredis "github.com/redis/go-redis/v9"
)

// NewClient parses redisURL and returns a client whose connection has been verified. The ping
// is retried with backoff so the gateway tolerates Redis starting after it. m may be nil.
func NewClient(ctx context.Context, redisURL string, m *metrics.RedisMetrics) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	if m != nil {
		rdb.AddHook(NewMetricsHook(m))
	}
	rdb.AddHook(NewCircuitBreakerHook(m))

	policy := retry.DefaultPolicy()
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.WarnContext(ctx, "Redis not reachable yet", "attempt", attempt, "retry_in", backoff, "error", err)
	}
	err = retry.DoVoid(ctx, policy, retry.AlwaysRetry, func() error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return rdb, nil
}

// HealthCheck returns a readiness check that pings Redis.
func HealthCheck(rdb *goredis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		return nil
	}
}
