// Package common provides the configuration and logging shared by the
// command line tool and applications embedding the pooled client.
//
// The package focuses on:
//   - ClientConfig: all pool, connection, failover and transport settings
//     in one flat structure that can be bound to flags and environment
//     variables, with a readable String() report
//   - Conversion into a pool.Config and creation of a ready pool.Manager,
//     including in-memory hosts (mem://name) for local experiments
//   - Custom logging implementation integrated with Dragonboat's logger
//     package, which all library packages use
package common
