package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBusy = errors.New("busy")

// run executes op with a fresh Retrier and drops the attempt count.
func run(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	_, err := New(opts...).DoCounted(ctx, func(ctx context.Context, _ int) error {
		return op(ctx)
	})
	return err
}

func TestDoCounted_RetriesRetryableUntilSuccess(t *testing.T) {
	calls := 0
	err := run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errBusy)
		}
		return nil
	}, WithMaxAttempts(3), WithInitialDelay(time.Millisecond), WithJitter(0))

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoCounted_PlainErrorIsNotRetried(t *testing.T) {
	calls := 0
	err := run(context.Background(), func(ctx context.Context) error {
		calls++
		return errBusy
	}, WithMaxAttempts(5), WithInitialDelay(time.Millisecond))

	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 1, calls)
}

func TestDoCounted_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := run(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(errBusy)
	}, WithMaxAttempts(5), WithRetryIf(func(error) bool { return true }))

	assert.Equal(t, errBusy, err)
	assert.Equal(t, 1, calls)
}

func TestDoCounted_ExhaustsBudget(t *testing.T) {
	r := SessionRetrier(2, time.Millisecond, func(err error) bool { return errors.Is(err, errBusy) })

	var seen []int
	attempts, err := r.DoCounted(context.Background(), func(ctx context.Context, attempt int) error {
		seen = append(seen, attempt)
		return errBusy
	})

	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []int{1, 2}, seen)
	assert.Equal(t, 2, r.MaxAttempts())
}

func TestDoCounted_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := run(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestOnRetryCallback(t *testing.T) {
	var delays []time.Duration
	_ = run(context.Background(), func(ctx context.Context) error {
		return Retryable(errBusy)
	},
		WithMaxAttempts(3),
		WithInitialDelay(time.Millisecond),
		WithJitter(0),
		WithOnRetry(func(attempt int, err error, delay time.Duration) {
			delays = append(delays, delay)
		}),
	)

	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}
