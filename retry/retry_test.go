package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hygge.dev/ferrors"
)

func TestDo_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Name: "op"}, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesEligibleErrorThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Retries: 3, Name: "op"}, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return ferrors.NewSourceError("transient", errors.New("reset"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_NonRetryableErrorReturnsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Retries: 3, Name: "op"}, func(ctx context.Context) error {
		calls++
		return ferrors.NewConfigError("bad setup", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	var cfg *ferrors.ConfigError
	assert.ErrorAs(t, err, &cfg)
}

func TestDo_ExhaustsRetriesAndWraps(t *testing.T) {
	calls := 0
	cause := errors.New("still broken")
	err := Do(context.Background(), Policy{Retries: 3, Name: "op"}, func(ctx context.Context) error {
		calls++
		return ferrors.NewSinkError("write failed", cause)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	var exhausted *ferrors.RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
}

func TestDo_BeforeRetryRunsBetweenAttempts(t *testing.T) {
	var hookCalls []int
	calls := 0
	err := Do(context.Background(), Policy{
		Retries: 3,
		Name:    "op",
		BeforeRetry: func(ctx context.Context, attempt int, cause error) error {
			hookCalls = append(hookCalls, attempt)
			return nil
		},
	}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return ferrors.NewSourceError("transient", errors.New("x"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, hookCalls)
}

func TestDo_ShouldRetryOverridesKindMatching(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{
		Retries:     2,
		Name:        "op",
		ShouldRetry: func(err error) bool { return true },
	}, func(ctx context.Context) error {
		calls++
		return ferrors.NewConfigError("would normally not retry", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_AttemptTimeoutProducesTimeoutError(t *testing.T) {
	err := Do(context.Background(), Policy{Retries: 1, Name: "slow-op", AttemptTimeout: 10 * time.Millisecond}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	var exhausted *ferrors.RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	var timeout *ferrors.TimeoutError
	assert.ErrorAs(t, exhausted.LastErr, &timeout)
}

func TestDo_BackoffCapsAtEightTimesBase(t *testing.T) {
	p := Policy{BaseDelay: 10 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, p.backoff(1))
	assert.Equal(t, 20*time.Millisecond, p.backoff(2))
	assert.Equal(t, 40*time.Millisecond, p.backoff(3))
	assert.Equal(t, 80*time.Millisecond, p.backoff(4))
	assert.Equal(t, 80*time.Millisecond, p.backoff(5))
	assert.Equal(t, 80*time.Millisecond, p.backoff(10))
}

func TestDo_CancelledContextDuringBackoffStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, Policy{Retries: 5, BaseDelay: 50 * time.Millisecond, Name: "op"}, func(ctx context.Context) error {
		calls++
		return ferrors.NewSourceError("transient", errors.New("x"))
	})
	require.Error(t, err)
	var cancelErr *ferrors.CancellationError
	assert.ErrorAs(t, err, &cancelErr)
}
