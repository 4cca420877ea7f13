package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3}, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, Initial: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 2, Initial: time.Millisecond}, func(context.Context) error {
		calls++
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 2, calls)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	p := Policy{
		Attempts:  5,
		Initial:   time.Millisecond,
		Retryable: func(error) bool { return false },
	}
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Policy{}, func(context.Context) error {
		calls++
		return errBoom
	})
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	fake := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, Policy{Attempts: 3, Initial: time.Hour, Clock: fake}, func(context.Context) error {
			return errBoom
		})
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, fake.BlockUntilContext(waitCtx, 1))
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, errBoom)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDo_BackoffDoublesAndCaps(t *testing.T) {
	fake := clockwork.NewFakeClock()
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(context.Background(), Policy{Attempts: 4, Initial: time.Second, Max: 3 * time.Second, Clock: fake}, func(context.Context) error {
			calls++
			return errBoom
		})
	}()

	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, d := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second} {
		require.NoError(t, fake.BlockUntilContext(waitCtx, 1))
		fake.Advance(d)
	}

	require.ErrorIs(t, <-done, errBoom)
	assert.Equal(t, 4, calls)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 400*time.Millisecond, nextBackoff(200*time.Millisecond, 5*time.Second))
	assert.Equal(t, 5*time.Second, nextBackoff(4*time.Second, 5*time.Second))
	assert.Equal(t, 8*time.Second, nextBackoff(4*time.Second, 0))
}
