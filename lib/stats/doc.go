// Package stats collects the counters of the connection pool (clients created,
// deactivated, failovers, retries, ...) and the time callers wait for a slot.
// Components take a Collector; Default returns the process-wide instance and
// tests create their own with New.
package stats
