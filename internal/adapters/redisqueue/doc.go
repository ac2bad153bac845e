// Package redisqueue implements queue.Queue on Redis Streams.
//
// A queue named "jobs" with prefix "durq" uses three keys, hash-tagged so
// they land on the same cluster slot:
//
//	durq:{jobs}:log        stream of pending messages (XADD, time-ordered ids)
//	durq:{jobs}:ephemeral  hash of in-flight messages keyed by message id
//	durq:{jobs}:cursor     stream id of the last taken entry
//
// Take and Requeue run as Lua scripts so that each state transition is
// applied atomically on the server. Every round trip goes through a circuit
// breaker; while it is open, calls fail fast with ErrStorageUnavailable.
package redisqueue
