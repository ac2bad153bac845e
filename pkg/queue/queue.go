package queue

import (
	"context"
	"time"
)

// Queue is the contract shared by every backend.
//
// A message moves Queued -> InFlight on Take, and leaves the in-flight
// (ephemeral) store through Finish, Requeue or RequeueSilent. None of the
// methods block waiting for data.
type Queue interface {
	// Enqueue stores a copy of msg with a fresh ID and returns that copy.
	Enqueue(ctx context.Context, msg *Message) (*Message, error)
	// Take returns the next pending message, or nil when none is pending.
	Take(ctx context.Context) (*Message, error)
	// Requeue returns msg to the pending set, incrementing NumRequeues and
	// refreshing Timestamp.
	Requeue(ctx context.Context, msg *Message) error
	// RequeueSilent returns msg to the pending set unchanged.
	RequeueSilent(ctx context.Context, msg *Message) error
	// Finish drops msg from the in-flight store. Unknown messages are ignored.
	Finish(ctx context.Context, msg *Message) error
	// OrphanScan lists in-flight messages whose Timestamp is at least
	// threshold old.
	OrphanScan(ctx context.Context, threshold time.Duration) ([]*Message, error)
	// QueueSize reports the number of pending messages.
	QueueSize(ctx context.Context) (int, error)
	// EphemeralSize reports the number of in-flight messages.
	EphemeralSize(ctx context.Context) (int, error)
	// Close persists what it can and releases resources.
	Close() error
}

// Pinger is implemented by queues that can report backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options are the settings every backend understands.
type Options struct {
	// EphemeralDisabled turns off in-flight tracking: Take removes messages
	// outright, Finish is a no-op and OrphanScan returns nothing.
	EphemeralDisabled bool
	// EphemeralMaxSize caps in-flight messages. Zero means unbounded.
	EphemeralMaxSize int
	// Codec serializes messages for storage.
	Codec Codec
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// WithDefaults fills unset fields, using codec when Codec is nil.
func (o Options) WithDefaults(codec Codec) Options {
	if o.Codec == nil {
		o.Codec = codec
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.EphemeralMaxSize < 0 {
		o.EphemeralMaxSize = 0
	}
	return o
}

// CapacityReached reports whether a Take must be refused given the current
// ephemeral size.
func (o Options) CapacityReached(ephemeralSize int) bool {
	return !o.EphemeralDisabled && o.EphemeralMaxSize > 0 && ephemeralSize >= o.EphemeralMaxSize
}
