package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestExponentialBackoff(t *testing.T) {
	p := ExponentialBackoff{Min: time.Second, Max: 10 * time.Second, Factor: 2, MaxAttempts: 5}

	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second}
	for i, want := range expected {
		d, ok := p.NextDelay(i + 1)
		require.True(t, ok, "attempt %d", i+1)
		assert.Equal(t, want, d, "attempt %d", i+1)
	}

	_, ok := p.NextDelay(6)
	assert.False(t, ok)
}

func TestExponentialBackoffJitter(t *testing.T) {
	p := ExponentialBackoff{Min: time.Second, Max: time.Minute, Factor: 2, Jitter: true}
	for attempt := 1; attempt < 20; attempt++ {
		d, ok := p.NextDelay(attempt)
		require.True(t, ok)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, time.Minute)
	}
}

type fixed []time.Duration

func (f fixed) NextDelay(attempt int) (time.Duration, bool) {
	if attempt > len(f) {
		return 0, false
	}
	return f[attempt-1], true
}

func TestManagerDecide(t *testing.T) {
	m := NewManager(fixed{0, time.Second})

	assert.Equal(t, Decision{Kind: RetryNow}, m.Decide(1))
	assert.Equal(t, Decision{Kind: RetryAfter, Delay: time.Second}, m.Decide(2))
	assert.Equal(t, Decision{Kind: Abandon}, m.Decide(3))

	def := NewManager(nil)
	d := def.Decide(1)
	assert.Equal(t, RetryAfter, d.Kind)
	assert.Equal(t, Abandon, def.Decide(defaultMaxAttempts+1).Kind)
}

var errConflict = errors.New("conflict")

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("retries listed errors", func(t *testing.T) {
		calls := 0
		v, err := Retry(ctx, 3, 0, []error{errConflict}, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, xerrors.Errorf("saving: %w", errConflict)
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, v)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns other errors immediately", func(t *testing.T) {
		calls := 0
		other := errors.New("boom")
		_, err := Retry(ctx, 3, 0, []error{errConflict}, func() (int, error) {
			calls++
			return 0, other
		})
		require.ErrorIs(t, err, other)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after the last attempt", func(t *testing.T) {
		calls := 0
		_, err := Retry(ctx, 2, 0, []error{errConflict}, func() (int, error) {
			calls++
			return 0, errConflict
		})
		require.ErrorIs(t, err, errConflict)
		assert.Equal(t, 2, calls)
	})

	t.Run("stops when the context is done", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Retry(cctx, 5, time.Hour, []error{errConflict}, func() (int, error) {
			return 0, errConflict
		})
		require.ErrorIs(t, err, context.Canceled)
	})
}
