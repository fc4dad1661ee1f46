// Package durablequeue provides the on-disk queue primitive shared by the
// incoming, outgoing, and module delivery queues described in spec §4.1:
// one file per entry, atomic write-temp-then-rename mutation, jittered
// exponential backoff on failure, and quarantine of unreadable entries
// instead of crashing the server.
package durablequeue
