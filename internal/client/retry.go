package client

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	notify     func(attempt int, err error, wait time.Duration)
}

func (c *Client) retryPolicy() retryPolicy {
	return retryPolicy{
		maxRetries: c.maxRetries,
		baseDelay:  c.baseDelay,
		maxDelay:   c.maxDelay,
		notify: func(attempt int, err error, wait time.Duration) {
			c.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("query attempt failed")
			if c.onRetry != nil {
				c.onRetry(attempt, err, wait)
			}
		},
	}
}

// backOff waits min(base * 2^(n-1), max) before retry n, without jitter.
func (p retryPolicy) backOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.baseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.maxDelay,
	}
}

// retry runs op until it succeeds, returns a permanent error, or has been
// attempted maxRetries+1 times. Attempt state is local to the call.
func retry[T any](ctx context.Context, p retryPolicy, op func(context.Context) (T, error)) (T, error) {
	attempts := 0

	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := op(ctx)
		if isPermanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(max(p.maxRetries, 0)+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if p.notify != nil {
				p.notify(attempts, err, wait)
			}
		}),
	)
	if err == nil {
		return res, nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return res, newClientError(attempts, err)
}
