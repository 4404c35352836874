package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/llm"
)

// RetryPolicy bounds how hard an upstream call is retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used when a service is built without one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     4 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// isPermanent reports errors that another attempt cannot fix.
func isPermanent(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	case llm.IsOutputError(err):
		return true
	case errors.Is(err, llm.ErrEmptyText), errors.Is(err, llm.ErrWrongDimensions), errors.Is(err, llm.ErrNoAPIKey):
		return true
	case errors.Is(err, domain.ErrActualNotFound):
		return true
	}
	return false
}

// withRetry runs op under the policy. Permanent errors stop immediately and
// are returned unchanged.
func withRetry[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := backoff.Retry(func() error {
		v, err := op(ctx)
		if err != nil {
			if isPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = v
		return nil
	}, p.backOff(ctx))
	return result, err
}

// classifyUpstream maps a failed generation or embedding call onto the
// domain error the caller reports.
func classifyUpstream(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case llm.IsOutputError(err):
		return domain.Wrap(domain.ErrMalformedOutput, err)
	default:
		return domain.Wrap(domain.ErrUpstreamUnavailable, err)
	}
}
