/*
Package resolver maps round-robin indexes to master and slave endpoints and
creates connections to them.

With VerifyMaster enabled, a connection that must go to a master is checked
with the ROLE command. If the host is no longer a master the resolver does
not fail right away: it probes every host it has ever been configured with,
partitions them by the role they report, replaces its lists and returns a
connection to the first master. Each probe is bounded by ProbeTimeout; hosts
that are down or slower than that are left out of the new partition but stay
in the all-hosts set, so a later re-probe can rediscover them.
*/
package resolver
