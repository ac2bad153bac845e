package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded is returned by Take when the ephemeral store holds
	// its configured maximum, and by bounded queues when they are full.
	ErrCapacityExceeded = errors.New("queue: capacity exceeded")
	// ErrSerialization wraps codec failures.
	ErrSerialization = errors.New("queue: serialization failure")
	// ErrStorageUnavailable wraps failures of the underlying storage engine.
	ErrStorageUnavailable = errors.New("queue: storage unavailable")
	// ErrInvalidArgument is returned for messages or options a queue cannot accept.
	ErrInvalidArgument = errors.New("queue: invalid argument")
	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = fmt.Errorf("%w: queue closed", ErrStorageUnavailable)
)

// SerializationError wraps a codec error so that it matches both
// ErrSerialization and the original cause.
func SerializationError(err error) error {
	if err == nil || errors.Is(err, ErrSerialization) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrSerialization, err)
}

// StorageError wraps an engine error raised while performing op.
func StorageError(op string, err error) error {
	if err == nil || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

// InvalidArgument returns an error matching ErrInvalidArgument.
func InvalidArgument(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, reason)
}

// CapacityError returns an error matching ErrCapacityExceeded.
func CapacityError(what string, max int) error {
	return fmt.Errorf("%w: %s holds %d messages", ErrCapacityExceeded, what, max)
}
