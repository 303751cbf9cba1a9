package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RetryPolicy bounds retries of transient storage failures.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff is the first wait; later waits grow exponentially with jitter.
	Backoff time.Duration
}

// DefaultRetryPolicy tries three times starting from a short backoff.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 20 * time.Millisecond}

const maxRetryWait = time.Second

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Backoff
	exp.MaxInterval = maxRetryWait
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// do runs fn until it succeeds, fails with a non-transient error, or attempts run out.
// Every engine operation is idempotent, so re-running a failed fn is safe.
func (p RetryPolicy) do(ctx context.Context, log zerolog.Logger, op string, fn func() error) error {
	attempt := 0
	return backoff.RetryNotify(
		func() error {
			attempt++
			err := fn()
			if err != nil && !errors.Is(err, ErrTransient) {
				return backoff.Permanent(err)
			}
			return err
		},
		p.backOff(ctx),
		func(err error, wait time.Duration) {
			log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("wait", wait).
				Msg("Transient storage error, retrying")
		},
	)
}
