// Package retry runs broker operations with exponential backoff. Errors are classified so
// that configuration mistakes stop immediately instead of burning the retry budget.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, use normal backoff
)

type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	OnRetry        func(attempt int, err error, backoff time.Duration)
}

// DefaultPolicy suits connecting to a broker at startup.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    5,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

type Classify func(err error) Action

// AlwaysRetry treats every error as transient.
func AlwaysRetry(error) Action { return Retry }

type Operation[T any] func() (T, error)
type VoidOperation func() error

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialBackoff),
		backoff.WithMaxInterval(p.MaxBackoff),
		backoff.WithMaxElapsedTime(0),
	)
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

func Do[T any](ctx context.Context, p Policy, classify Classify, op Operation[T]) (T, error) {
	attempt := 0
	wrapped := func() (T, error) {
		attempt++
		val, err := op()
		if err != nil && classify(err) == Stop {
			return val, backoff.Permanent(&PermanentError{Err: err})
		}
		return val, err
	}

	notify := func(err error, d time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, d)
		}
	}

	val, err := backoff.RetryNotifyWithData(wrapped, p.backOff(ctx), notify)
	if err == nil {
		return val, nil
	}

	var permErr *PermanentError
	if errors.As(err, &permErr) {
		return val, permErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return val, fmt.Errorf("context cancelled during retry: %w", ctxErr)
	}
	return val, fmt.Errorf("failed after %d attempts: %w", attempt, err)
}

func DoVoid(ctx context.Context, p Policy, classify Classify, op VoidOperation) error {
	_, err := Do(ctx, p, classify, func() (struct{}, error) { return struct{}{}, op() })
	return err
}

type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
