/*
Package deactivation implements the registry for connections that were pulled
out of service after an error or a failover.

A deactivated connection is not closed right away. It is kept for a grace
period so that a caller still holding it sees a clean error from the pool
instead of a socket closed underneath it. SweepExpired disposes the
connections whose grace period elapsed; the pool calls it opportunistically
after acquire and release. DisposeAll is used on shutdown.

The registry is backed by xsync.MapOf, so Deactivate and SweepExpired never
block each other. Registering the same connection twice disposes the second
attempt immediately, which keeps the bookkeeping single-entry.
*/
package deactivation
