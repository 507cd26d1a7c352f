// Package poll is the single bounded-wait helper shared by everything
// that has to bridge a synchronous call with the control plane's
// asynchronous execution. Callers parameterize interval and timeout;
// the loop itself is implemented exactly once.
package poll

import (
	"context"
	"errors"
	"time"

	"github.com/systeminit/pluto/pkg/model"
)

// Probe is one polling attempt. Returning done=false with a nil error
// means "not yet" and keeps the loop going; any non-nil error is a hard
// failure and aborts immediately.
type Probe[T any] func(ctx context.Context) (value T, done bool, err error)

// Until invokes probe on a fixed cadence until it reports done, fails
// hard, or timeout elapses. op names the wait in the *model.TimeoutError
// returned when the deadline passes. Until never panics; a cancelled
// context surfaces as ctx.Err().
func Until[T any](ctx context.Context, op string, probe Probe[T], interval, timeout time.Duration) (T, error) {
	var zero T
	start := time.Now()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	// First attempt immediately, the ticker covers the rest.
	v, done, err := probe(ctx)
	if err != nil {
		return zero, err
	}
	if done {
		return v, nil
	}

	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-deadline.C:
			return zero, &model.TimeoutError{Op: op, Elapsed: time.Since(start)}
		case <-tick.C:
			v, done, err := probe(ctx)
			if err != nil {
				return zero, err
			}
			if done {
				return v, nil
			}
		}
	}
}

// IsTimeout reports whether err is the soft-timeout outcome of a bounded
// wait, as opposed to a hard failure.
func IsTimeout(err error) bool {
	var te *model.TimeoutError
	return errors.As(err, &te)
}
