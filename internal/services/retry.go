package services

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sbilibin2017/gw-bill-payments/internal/apperr"
)

// RetryPolicy bounds retries of provider calls.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)
}

// retry runs op until it succeeds, returns an error retryIf rejects, or the
// policy is exhausted. The last error is returned unwrapped.
func retry[T any](ctx context.Context, p RetryPolicy, retryIf func(error) bool, op func(ctx context.Context) (T, error)) (T, error) {
	return backoff.RetryWithData(func() (T, error) {
		v, err := op(ctx)
		if err != nil && !retryIf(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, p.backOff(ctx))
}

// withTimeout runs op under a per-attempt deadline.
func withTimeout[T any](timeout time.Duration, op func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		if timeout <= 0 {
			return op(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return op(ctx)
	}
}

// retryableCreate reports whether a create call may be repeated with the same
// out ref. A timed out call has an unknown outcome and is left to reconciliation.
func retryableCreate(err error) bool {
	if errors.Is(err, apperr.ErrNotDelivered) {
		return true
	}
	return errors.Is(err, apperr.ErrProviderUnavailable) && !isTimeout(err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
