// Package retry wraps control-plane calls with a bounded exponential backoff.
// The policy is applied uniformly by every task that talks to the engine:
// transient failures are retried locally, terminal ones abort immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mantlenetworkio/engine-driver/clock"
)

// Policy bounds the retry loop. The delay between attempt n and n+1 grows
// exponentially from BaseDelay up to MaxDelay, with the jitter of the
// underlying backoff implementation.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

func (p Policy) Check() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy needs at least 1 attempt, got %d", p.MaxAttempts)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("invalid base delay: %s", p.BaseDelay)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("max delay %s is below base delay %s", p.MaxDelay, p.BaseDelay)
	}
	return nil
}

// ExhaustedError is returned when the attempt budget ran out.
// It unwraps to the error of the last attempt.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed permanently after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// Permanent marks an error as terminal: Do returns it immediately,
// without consuming further attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, or the policy's
// attempt budget is exhausted. Sleeps go through the given clock so tests
// can observe and skip the delays.
func Do[T any](ctx context.Context, p Policy, clk clock.Clock, op func(ctx context.Context) (T, error)) (T, error) {
	var ret T
	var err error
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.MaxInterval = p.MaxDelay
	eb.MaxElapsedTime = 0 // attempts are bounded by the policy, not wall time
	eb.Reset()

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ret, ctx.Err()
		}
		ret, err = op(ctx)
		if err == nil {
			return ret, nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return ret, perm.Unwrap()
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ret, ctx.Err()
		case <-clk.After(eb.NextBackOff()):
		}
	}
	return ret, &ExhaustedError{Attempts: p.MaxAttempts, LastErr: err}
}
