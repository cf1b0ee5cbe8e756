// Package retry implements the retry wrapper described in spec §4.1: a
// fallible operation is retried with exponential backoff, a per-attempt
// timeout, and an optional before-retry cleanup hook.
package retry

import (
	"context"
	"time"

	"hygge.dev/ferrors"
	"hygge.dev/logging"
)

var log = logging.New("retry")

// ShouldRetryFunc decides whether err is eligible for another attempt. If
// set on Policy, it supersedes ferrors.Retryable.
type ShouldRetryFunc func(err error) bool

// BeforeRetryFunc runs between a failed attempt and the next one, e.g. to
// reset a Store's buffer before replaying a write.
type BeforeRetryFunc func(ctx context.Context, attempt int, cause error) error

// Policy configures one retry wrapper instance.
type Policy struct {
	// Retries is the maximum number of attempts; default 3 if zero.
	Retries int
	// BaseDelay is the initial backoff; doubled each retry and capped at
	// BaseDelay*8.
	BaseDelay time.Duration
	// AttemptTimeout bounds each individual attempt; zero means no bound.
	AttemptTimeout time.Duration
	// ShouldRetry overrides ferrors.Retryable when non-nil.
	ShouldRetry ShouldRetryFunc
	// BeforeRetry runs before every retried attempt, not before the first.
	BeforeRetry BeforeRetryFunc
	// Name labels the wrapped operation in logs and in
	// ferrors.RetriesExhaustedError observability.
	Name string
}

const maxBackoffMultiplier = 8

func (p Policy) retries() int {
	if p.Retries <= 0 {
		return 3
	}
	return p.Retries
}

func (p Policy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	multiplier := time.Duration(1) << uint(attempt-1)
	cap := time.Duration(maxBackoffMultiplier)
	if multiplier > cap {
		multiplier = cap
	}
	return p.BaseDelay * multiplier
}

// Op is the operation being retried.
type Op func(ctx context.Context) error

// Do runs op under policy p, retrying per the spec §4.1 algorithm: attempt,
// and on an eligible error, sleep, run BeforeRetry, and try again; give up
// after the last attempt and return a ferrors.RetriesExhaustedError
// wrapping the last cause.
func Do(ctx context.Context, p Policy, op Op) error {
	attempts := p.retries()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		err := runAttempt(ctx, p, op)
		if err == nil {
			return nil
		}
		lastErr = err

		eligible := ferrors.Retryable(err)
		if p.ShouldRetry != nil {
			eligible = p.ShouldRetry(err)
		}
		if !eligible {
			return err
		}
		if attempt == attempts {
			break
		}

		log.WithField("operation", p.Name).WithField("attempt", attempt).
			WithError(err).Warn("retrying after eligible failure")

		delay := p.backoff(attempt)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ferrors.NewCancellationError("context cancelled during retry backoff")
			}
		}

		if p.BeforeRetry != nil {
			if hookErr := p.BeforeRetry(ctx, attempt, err); hookErr != nil {
				return hookErr
			}
		}
	}

	return ferrors.NewRetriesExhaustedError(attempts, lastErr)
}

func runAttempt(ctx context.Context, p Policy, op Op) error {
	if p.AttemptTimeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()

	err := op(attemptCtx)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded {
		return ferrors.NewTimeoutError(p.Name, p.AttemptTimeout.String())
	}
	return err
}
