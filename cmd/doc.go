// Package cmd implements the command-line interface of replkv. It provides a
// hierarchical command structure to talk to a replicated store through the
// connection pool.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for key-value operations (get, set, del, incr, mset, perf, etc.)
//   - lock: Commands for locking operations (acquire, release)
//   - pool: Commands to inspect the pool (stats) and to test failovers
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// All client flags can also be set as environment variables with the prefix
// REPLKV_ (e.g. REPLKV_MASTERS=db1:6379,db2:6379), also from .env and
// .env.local files in the working directory. Use mem://name as host to try
// the commands against an in-memory store.
//
// See replkv -help for a list of all commands.
package cmd
