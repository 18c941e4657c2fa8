package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/replkv/lib/client"
	"github.com/ValentinKolb/replkv/lib/conn"
	"github.com/ValentinKolb/replkv/lib/pipeline"
	"github.com/ValentinKolb/replkv/lib/util"
	"github.com/lni/dragonboat/v4/logger"
)

// Logger is the logger for the lockmgr package
var Logger = logger.GetLogger("lockmgr")

// ErrLockTimeout is returned when a lock could not be acquired in time
var ErrLockTimeout = errors.New("timed out acquiring lock")

// NoExpiry is the lifetime of a lock acquired without timeout
const NoExpiry = 365 * 24 * time.Hour

// Lock is a held lock
type Lock struct {
	Key    string
	Value  string
	Expiry time.Time

	release func(ctx context.Context, l *Lock) error
}

// Release deletes the lock key
func (l *Lock) Release(ctx context.Context) error {
	return l.release(ctx, l)
}

// Expired reports whether the encoded expiry has passed
func (l *Lock) Expired() bool {
	return !l.Expiry.After(time.Now())
}

// --------------------------------------------------------------------------
// Acquire on a client
// --------------------------------------------------------------------------

// AcquireOn acquires the lock for key using c. Release of the returned lock
// uses c again, so c must not be released before the lock.
func AcquireOn(ctx context.Context, c *client.Client, key string, timeout time.Duration) (*Lock, error) {
	lock, err := acquire(ctx, key, timeout, func(ctx context.Context, value string) (bool, error) {
		return tryAcquire(ctx, c, key, value)
	})
	if err != nil {
		return nil, err
	}
	lock.release = func(ctx context.Context, l *Lock) error {
		return releaseOn(ctx, c, l)
	}
	return lock, nil
}

// attemptFunc makes one attempt to store value under the lock key
type attemptFunc func(ctx context.Context, value string) (bool, error)

func acquire(ctx context.Context, key string, timeout time.Duration, try attemptFunc) (*Lock, error) {
	ttl := timeout
	if ttl <= 0 {
		ttl = NoExpiry
	}

	var lock *Lock
	attempts := 0
	err := util.RetryUntilTrue(ctx, timeout, func(ctx context.Context) (bool, error) {
		attempts++
		expiry := time.Now().Add(ttl)
		value := encodeExpiry(expiry)

		ok, err := try(ctx, value)
		if err != nil || !ok {
			return false, err
		}
		lock = &Lock{Key: key, Value: value, Expiry: expiry}
		return true, nil
	})

	switch {
	case err == nil:
		Logger.Debugf("acquired lock %q after %d attempts", key, attempts)
		return lock, nil
	case errors.Is(err, util.ErrRetryTimeout):
		return nil, fmt.Errorf("%w %q within %v", ErrLockTimeout, key, timeout)
	default:
		return nil, fmt.Errorf("failed to acquire lock %q: %w", key, err)
	}
}

// tryAcquire makes one attempt: set the key if it is absent, otherwise take
// it over if the expiry stored in it has passed
func tryAcquire(ctx context.Context, c *client.Client, key, value string) (bool, error) {
	ok, err := c.SetNX(ctx, key, value)
	if err != nil || ok {
		return ok, err
	}

	// the key exists, check whether its holder abandoned it
	if err := c.Watch(ctx, key); err != nil {
		return false, err
	}
	current, err := c.Get(ctx, key)
	if conn.IsReplyError(err) {
		// not a lock value, e.g. a key of another type
		return false, c.Unwatch(ctx)
	}
	if err != nil {
		return false, err
	}
	expiry, valid := decodeExpiry(current)
	if !valid || expiry.After(time.Now()) {
		return false, c.Unwatch(ctx)
	}

	Logger.Debugf("lock %q expired at %v, taking it over", key, expiry)
	tx, err := pipeline.Begin(c)
	if err != nil {
		return false, err
	}
	defer tx.Close()

	if err := tx.Set(key, value, 0); err != nil {
		return false, err
	}
	// a racer that changed the key first aborts the transaction
	return tx.Commit(ctx)
}

func releaseOn(ctx context.Context, c *client.Client, l *Lock) error {
	if _, err := c.Del(ctx, l.Key); err != nil {
		return fmt.Errorf("failed to release lock %q: %w", l.Key, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Lock manager over a client source
// --------------------------------------------------------------------------

type lockMgrImpl struct {
	source ClientSource
}

// NewLockManager creates a lock manager that borrows a client from source for
// every acquire attempt and release
func NewLockManager(source ClientSource) ILockManager {
	return &lockMgrImpl{source: source}
}

func (lm *lockMgrImpl) AcquireLock(ctx context.Context, key string, timeout time.Duration) (*Lock, error) {
	lock, err := acquire(ctx, key, timeout, func(ctx context.Context, value string) (bool, error) {
		c, err := lm.source.GetClient(ctx)
		if err != nil {
			return false, err
		}
		defer c.Release()
		return tryAcquire(ctx, c, key, value)
	})
	if err != nil {
		return nil, err
	}
	lock.release = lm.ReleaseLock
	return lock, nil
}

func (lm *lockMgrImpl) ReleaseLock(ctx context.Context, lock *Lock) error {
	c, err := lm.source.GetClient(ctx)
	if err != nil {
		return err
	}
	defer c.Release()
	return releaseOn(ctx, c, lock)
}
