// Package lockmgr implements a named, mutually exclusive lock on top of the
// replicated store. A lock is nothing but a key: it is held while the key
// exists and the expiry encoded in its value lies in the future.
//
// The lockmgr keeps no state besides the lock keys. It is therefore safe to
// create it multiple times for the same pool, and a lock acquired through one
// lock manager can be released through another.
//
// Core Functionality:
//   - Lock acquisition with an expiry that is part of the stored value
//   - Safe takeover of expired (abandoned) locks
//   - Release by deleting the key
//
// Implementation Approach:
//
//	- Lock Acquisition: SETNX stores the expiry (unix milliseconds plus one)
//	  at the key. Only one requester can create the key.
//
//	- Stale Locks: if the key exists, the requester WATCHes it and reads the
//	  stored expiry. If it is unparsable or still in the future the attempt
//	  fails. If it passed, the value is replaced in a MULTI/EXEC transaction.
//	  The watch guarantees that the transaction aborts if another requester
//	  took the lock over in the meantime.
//
//	- Retries: failed attempts are retried with a growing random backoff
//	  until the timeout elapsed, then ErrLockTimeout is returned. Without a
//	  timeout the lock lives for NoExpiry and the attempt is retried until
//	  the context is done.
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager(pool)
//
//	lock, err := locks.AcquireLock(ctx, "resource:123", 30*time.Second)
//	if err != nil {
//	    // Handle error (errors.Is(err, lockmgr.ErrLockTimeout) if it is held)
//	}
//	defer lock.Release(ctx)
//
// Distributed Considerations:
//
//	The expiry is computed from the local clock of the requester. Clocks of
//	processes sharing a lock should be synchronized to well below the lock
//	timeouts in use.
package lockmgr
