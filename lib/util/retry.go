package util

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// ErrRetryTimeout is returned when RetryUntilTrue gives up
var ErrRetryTimeout = errors.New("retry timed out")

// MaxBackoff is the longest sleep Backoff returns
const MaxBackoff = time.Second

// maxBackoffStep is the last attempt whose range starts below MaxBackoff
const maxBackoffStep = 31

// Backoff returns the sleep before retry attempt i (starting at 0): a random
// number of milliseconds between i² and (i+1)², so contending callers spread
// out quickly. The result never exceeds MaxBackoff.
func Backoff(i int) time.Duration {
	i = max(0, min(i, maxBackoffStep))
	lo := i * i
	hi := (i + 1) * (i + 1)
	d := time.Duration(lo+rand.IntN(hi-lo+1)) * time.Millisecond
	return min(d, MaxBackoff)
}

// RetryUntilTrue calls fn until it returns true, sleeping Backoff(i) between
// attempts. It stops with fn's error if fn fails, with ctx's error if ctx is
// done, and with ErrRetryTimeout once timeout elapsed (0 = no timeout).
func RetryUntilTrue(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (bool, error)) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for i := 0; ; i++ {
		ok, err := fn(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		sleep := Backoff(i)
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return ErrRetryTimeout
			}
			sleep = min(sleep, remaining)
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
