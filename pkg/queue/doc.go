// Package queue defines the at-least-once queue contract implemented by every
// durq backend.
//
// # Lifecycle
//
// Enqueue stores a pending message in the main partition. Take moves the next
// pending message into the ephemeral (in-flight) store and hands it to the
// caller. The caller then either Finishes it, which drops it for good, or
// Requeues it back to pending. A consumer that disappears leaves its message
// in the ephemeral store; OrphanScan finds such messages by age and a
// recovery driver hands them back with RequeueSilent, which leaves the
// requeue counter and timestamp untouched.
//
// # Ordering
//
// Pending messages are keyed by time-sortable keys generated per insert, so
// Take follows insertion order only approximately when producers race.
//
// # Errors
//
// Failures are reported with the sentinels ErrCapacityExceeded,
// ErrSerialization, ErrStorageUnavailable and ErrInvalidArgument. Taking from
// an empty queue or finishing an unknown message is not an error.
package queue
