package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aschepis/switchboard/backend"
)

const (
	// DefaultMaxRetries bounds DispatchWithRetry when RetryOptions leaves
	// MaxRetries at zero.
	DefaultMaxRetries = 3
	// DefaultInitialDelay is the first backoff interval.
	DefaultInitialDelay = 500 * time.Millisecond
	// DefaultMaxInterval caps the backoff growth.
	DefaultMaxInterval = 10 * time.Second
)

// RetryOptions tunes DispatchWithRetry. The zero value means three retries
// with the default exponential schedule.
type RetryOptions struct {
	MaxRetries   uint64
	InitialDelay time.Duration
	MaxInterval  time.Duration
}

// DispatchWithRetry wraps Dispatch in exponential backoff. Only transport and
// timeout failures are retried; configuration and catalog-miss failures stop
// immediately, as does context cancellation. The last response is returned in
// all cases, never nil.
//
// Retries re-enter Dispatch from the top, so variant selection (and the
// fallback, if configured) runs fresh on every attempt.
func (d *Dispatcher) DispatchWithRetry(ctx context.Context, req *backend.Request, opts Options, retry RetryOptions) *backend.Response {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = DefaultMaxRetries
	}
	if retry.InitialDelay <= 0 {
		retry.InitialDelay = DefaultInitialDelay
	}
	if retry.MaxInterval <= 0 {
		retry.MaxInterval = DefaultMaxInterval
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = retry.InitialDelay
	eb.MaxInterval = retry.MaxInterval
	eb.Reset()

	var last *backend.Response
	operation := func() error {
		last = d.Dispatch(ctx, req, opts)
		if last.Succeeded() {
			return nil
		}
		if !transportFailure(last) {
			return backoff.Permanent(errors.New(last.Error))
		}
		return errors.New(last.Error)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(eb, retry.MaxRetries), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		d.logger.Warn().
			Err(err).
			Uint64("max_retries", retry.MaxRetries).
			Msg("Dispatch retries exhausted")
	}
	return last
}
