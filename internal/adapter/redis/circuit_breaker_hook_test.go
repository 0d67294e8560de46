package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/staffpulse/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failing(err error) goredis.ProcessHook {
	return func(context.Context, goredis.Cmder) error { return err }
}

func succeeding(context.Context, goredis.Cmder) error { return nil }

func run(hook *CircuitBreakerHook, next goredis.ProcessHook) error {
	ctx := context.Background()
	return hook.ProcessHook(next)(ctx, goredis.NewStringCmd(ctx, "ping"))
}

func TestCircuitBreakerHook_NormalOperation(t *testing.T) {
	hook := NewCircuitBreakerHook(nil)

	for range 10 {
		require.NoError(t, run(hook, succeeding))
	}

	assert.Equal(t, gobreaker.StateClosed, hook.State())
	counts := hook.Counts()
	assert.Equal(t, uint32(10), counts.Requests)
	assert.Equal(t, uint32(10), counts.TotalSuccesses)
	assert.Equal(t, uint32(0), counts.TotalFailures)
}

func TestCircuitBreakerHook_NilIsNotAFailure(t *testing.T) {
	hook := NewCircuitBreakerHook(nil)

	for range 10 {
		err := run(hook, failing(goredis.Nil))
		require.ErrorIs(t, err, goredis.Nil)
	}

	assert.Equal(t, gobreaker.StateClosed, hook.State())
}

func TestCircuitBreakerHook_TransientFailures(t *testing.T) {
	hook := NewCircuitBreakerHook(nil)

	for range 2 {
		err := run(hook, failing(errors.New("connection refused")))
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}

	assert.Equal(t, gobreaker.StateClosed, hook.State())
}

func TestCircuitBreakerHook_OpensAndFailsFast(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRedisMetrics(reg)
	hook := NewCircuitBreakerHook(m)

	for range 5 {
		_ = run(hook, failing(errors.New("redis down")))
	}
	require.Equal(t, gobreaker.StateOpen, hook.State())
	assert.InDelta(t, 2, testutil.ToFloat64(m.BreakerState), 0)

	called := false
	err := run(hook, func(context.Context, goredis.Cmder) error {
		called = true
		return nil
	})

	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.False(t, called, "Redis should not be called when circuit is open")
}

func TestCircuitBreakerHook_RecoversAfterTimeout(t *testing.T) {
	hook := newCircuitBreakerHook(gobreaker.Settings{
		Name:        "redis-test",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     50 * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 3 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	}, nil)

	for range 3 {
		_ = run(hook, failing(errors.New("failure")))
	}
	require.Equal(t, gobreaker.StateOpen, hook.State())

	time.Sleep(100 * time.Millisecond)

	require.NoError(t, run(hook, succeeding))
	assert.Equal(t, gobreaker.StateHalfOpen, hook.State())

	require.NoError(t, run(hook, succeeding))
	assert.Equal(t, gobreaker.StateClosed, hook.State())
}

func TestCircuitBreakerHook_Pipeline(t *testing.T) {
	hook := NewCircuitBreakerHook(nil)
	ctx := context.Background()

	err := hook.ProcessPipelineHook(func(context.Context, []goredis.Cmder) error {
		return nil
	})(ctx, []goredis.Cmder{goredis.NewStringCmd(ctx, "ping")})

	require.NoError(t, err)
	assert.Equal(t, uint32(1), hook.Counts().Requests)
}
