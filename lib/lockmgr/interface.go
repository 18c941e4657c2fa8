package lockmgr

import (
	"context"
	"time"

	"github.com/ValentinKolb/replkv/lib/client"
)

// ClientSource hands out write clients, typically a *pool.Manager
type ClientSource interface {
	GetClient(ctx context.Context) (*client.Client, error)
}

// ILockManager defines the interface for a lock provider.
type ILockManager interface {
	// AcquireLock acquires the lock for key. The lock expires after timeout
	// (or NoExpiry if timeout is 0) and the attempt is retried until timeout
	// elapsed, then ErrLockTimeout is returned. A timeout of 0 retries until
	// ctx is done.
	AcquireLock(ctx context.Context, key string, timeout time.Duration) (*Lock, error)

	// ReleaseLock releases the lock by deleting its key. Releasing a lock
	// whose key no longer exists is not an error.
	ReleaseLock(ctx context.Context, lock *Lock) error
}
