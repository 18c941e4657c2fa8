package util

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func TestBackoffBounds(t *testing.T) {
	for i := 0; i < 10; i++ {
		lo := time.Duration(i*i) * time.Millisecond
		hi := time.Duration((i+1)*(i+1)) * time.Millisecond
		for j := 0; j < 50; j++ {
			if d := Backoff(i); d < lo || d > hi {
				t.Fatalf("Backoff(%d) = %v, outside [%v, %v]", i, d, lo, hi)
			}
		}
	}
}

func TestBackoffIsCapped(t *testing.T) {
	for _, i := range []int{maxBackoffStep, 32, 100, 1000, 1 << 20, math.MaxInt} {
		for j := 0; j < 20; j++ {
			d := Backoff(i)
			if d > MaxBackoff {
				t.Fatalf("Backoff(%d) = %v, above %v", i, d, MaxBackoff)
			}
			if d < MaxBackoff/2 {
				t.Fatalf("Backoff(%d) = %v, late attempts should wait close to %v", i, d, MaxBackoff)
			}
		}
	}
}

func TestRetryUntilTrue(t *testing.T) {
	t.Run("SucceedsEventually", func(t *testing.T) {
		calls := 0
		err := RetryUntilTrue(context.Background(), time.Second, func(context.Context) (bool, error) {
			calls++
			return calls == 3, nil
		})
		if err != nil || calls != 3 {
			t.Fatalf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		start := time.Now()
		err := RetryUntilTrue(context.Background(), 50*time.Millisecond, func(context.Context) (bool, error) {
			return false, nil
		})
		if !errors.Is(err, ErrRetryTimeout) {
			t.Fatalf("expected ErrRetryTimeout, got %v", err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("timeout took %v", elapsed)
		}
	})

	t.Run("ErrorStops", func(t *testing.T) {
		boom := errors.New("boom")
		calls := 0
		err := RetryUntilTrue(context.Background(), time.Second, func(context.Context) (bool, error) {
			calls++
			return false, boom
		})
		if !errors.Is(err, boom) || calls != 1 {
			t.Fatalf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("ContextCancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := RetryUntilTrue(ctx, 0, func(context.Context) (bool, error) {
			calls++
			if calls == 2 {
				cancel()
			}
			return false, nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}
