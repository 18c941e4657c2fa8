package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/replkv/lib/client"
	"github.com/ValentinKolb/replkv/lib/conn"
	"github.com/ValentinKolb/replkv/lib/resolver"
)

var (
	// ErrPoolTimeout is wrapped by every *PoolTimeoutError
	ErrPoolTimeout = errors.New("pool timeout")

	// ErrClosed is returned by a closed Manager
	ErrClosed = errors.New("pool is closed")
)

// PoolTimeoutError is returned when no slot became available in time
type PoolTimeoutError struct {
	Pool    string
	Size    int
	Timeout time.Duration
}

func (e *PoolTimeoutError) Error() string {
	return fmt.Sprintf("%s pool: no client became available within %v (max pool size %d)", e.Pool, e.Timeout, e.Size)
}

func (e *PoolTimeoutError) Unwrap() error {
	return ErrPoolTimeout
}

// retryable reports whether Exec may retry after err
func retryable(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrPoolTimeout),
		errors.Is(err, ErrClosed),
		errors.Is(err, resolver.ErrNoMasterFound),
		errors.Is(err, resolver.ErrNoHosts),
		errors.Is(err, client.ErrAccessViolation),
		errors.Is(err, client.ErrBatchInProgress):
		return false
	}

	// errors can opt out explicitly (e.g. a desynchronized transaction)
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return conn.IsConnectionFault(err)
}
