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

func TestExponential(t *testing.T) {
	b := Exponential(500*time.Millisecond, 3*time.Second)
	assert.Equal(t, 500*time.Millisecond, b(1))
	assert.Equal(t, time.Second, b(2))
	assert.Equal(t, 2*time.Second, b(3))
	assert.Equal(t, 3*time.Second, b(4))
	assert.Equal(t, 3*time.Second, b(10))
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	var waits []time.Duration
	p := Policy{
		MaxAttempts: 3,
		Backoff:     Constant(0),
		OnRetry:     func(_ int, w time.Duration, _ error) { waits = append(waits, w) },
	}
	calls := 0
	attempts, err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		if calls < 3 {
			return errors.New("unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Len(t, waits, 2)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	boom := errors.New("boom")
	p := Policy{MaxAttempts: 3}
	calls := 0
	attempts, err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return boom
	})
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	assert.ErrorIs(t, err, boom)
}

func TestDoStopsOnPermanent(t *testing.T) {
	bad := errors.New("unregistered")
	calls := 0
	attempts, err := Policy{MaxAttempts: 3}.Do(context.Background(), func(context.Context, int) error {
		calls++
		return Permanent(bad)
	})
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.Equal(t, bad, err)
}

func TestDoWaitsOnInjectedClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	p := Policy{
		MaxAttempts: 3,
		Backoff:     Exponential(500*time.Millisecond, 0),
		Clock:       clock,
	}

	done := make(chan error, 1)
	go func() {
		_, err := p.Do(context.Background(), func(context.Context, int) error {
			return errors.New("unavailable")
		})
		done <- err
	}()

	clock.BlockUntil(1)
	clock.Advance(500 * time.Millisecond)
	clock.BlockUntil(1)
	clock.Advance(time.Second)

	select {
	case err := <-done:
		var ex *ExhaustedError
		assert.ErrorAs(t, err, &ex)
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop did not finish")
	}
	assert.Equal(t, start.Add(1500*time.Millisecond), clock.Now())
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := clockwork.NewFakeClock()
	p := Policy{MaxAttempts: 5, Backoff: Constant(time.Hour), Clock: clock}

	done := make(chan int, 1)
	go func() {
		n, _ := p.Do(ctx, func(context.Context, int) error { return errors.New("x") })
		done <- n
	}()
	clock.BlockUntil(1)
	cancel()
	select {
	case n := <-done:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop ignored cancellation")
	}
}
