// Package pool implements the client connection pool for a replicated store
// with read-write (master) and read-only (slave) hosts.
//
// A Manager holds two fixed-size slot arrays: the write pool, whose clients
// connect to masters, and the read pool, whose clients connect to slaves (or
// to masters if no slaves are configured). In single pool mode both requests
// are served from the write pool.
//
// Key Components:
//
//   - Slots: every cell of a slot array is Empty, Reserved (a client is being
//     created for it), Occupied or Faulty. Acquire scans the array starting at
//     a round-robin cursor with the host count as stride, so consecutive
//     acquires visit the hosts in turn. An idle healthy client is claimed, an
//     empty or faulty slot is reserved and a new client is created for it
//     outside the lock.
//
//   - Waiting: if every slot is in use the caller waits for a release, but at
//     most RecheckInterval before scanning again. After PoolTimeout the
//     acquire fails with a *PoolTimeoutError.
//
//   - Faults: a client whose connection failed is never handed out again. Its
//     slot is marked Faulty and refilled on the next demand, the old client
//     goes to the deactivation registry.
//
//   - Failover: FailoverTo hands every pooled client to the deactivation
//     registry, clears the slots and points the resolver at the new hosts.
//     Clients checked out at that moment keep working until they are
//     released. A client whose slot was cleared while it was being created is
//     returned unmanaged and disposed on release.
//
//   - Exec: runs a function with a client and retries it on connection faults
//     with backoff until RetryTimeout elapsed.
//
// Usage:
//
//	m, err := pool.New(pool.Config{Masters: masters, Slaves: slaves})
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//
//	c, err := m.GetClient(ctx)
//	if err != nil {
//		return err
//	}
//	defer c.Release()
//	return c.Set(ctx, "key", "value", 0)
package pool
