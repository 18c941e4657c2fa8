// Package util holds small helpers shared by the pool, the lock manager and
// the CLI: retrying with quadratic backoff and summary statistics for
// benchmark results.
package util
