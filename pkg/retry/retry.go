// Package retry runs an operation a bounded number of times with a backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// BackoffFunc returns the wait before the next attempt, given the attempt that just failed (1-based).
type BackoffFunc func(attempt int) time.Duration

// Exponential doubles base on every attempt and caps the wait at max (0 means no cap).
func Exponential(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if max > 0 && d >= max {
				return max
			}
		}
		if max > 0 && d > max {
			return max
		}
		return d
	}
}

// Constant waits d between every attempt.
func Constant(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

type Policy struct {
	MaxAttempts int
	Backoff     BackoffFunc
	Clock       clockwork.Clock
	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying; Do returns it immediately, unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a permanent error, the context ends, or
// MaxAttempts is reached. It returns the number of attempts made.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = Constant(0)
	}

	var last error
	for attempt := 1; attempt <= max; attempt++ {
		if err := ctx.Err(); err != nil {
			if last == nil {
				last = err
			}
			return attempt - 1, last
		}
		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return attempt, perm.err
		}
		last = err
		if attempt == max {
			break
		}
		wait := backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
		if wait > 0 {
			select {
			case <-clock.After(wait):
			case <-ctx.Done():
				return attempt, last
			}
		}
	}
	return max, &ExhaustedError{Attempts: max, Last: last}
}
