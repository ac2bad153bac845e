package queue

import (
	"time"

	"github.com/google/uuid"
)

// Message is the unit of work moved through a Queue.
type Message struct {
	// ID is assigned by the queue on Enqueue and kept across requeues.
	ID string
	// OriginalTimestamp is set once, when the message is first enqueued.
	OriginalTimestamp time.Time
	// Timestamp is refreshed on Enqueue and Requeue. Orphan detection
	// compares against it.
	Timestamp time.Time
	// NumRequeues counts explicit Requeue calls.
	NumRequeues int
	// Payload is opaque to the queue.
	Payload []byte
}

// NewMessage returns an unqueued message carrying payload.
func NewMessage(payload []byte) *Message {
	return &Message{Payload: payload}
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Payload != nil {
		c.Payload = append([]byte(nil), m.Payload...)
	}
	return &c
}

// NewID returns a fresh message identifier.
func NewID() string {
	return uuid.NewString()
}

// Truncate rounds t down to millisecond precision, the resolution every codec
// and backend stores.
func Truncate(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}

// PrepareEnqueue validates msg and returns the clone to store: fresh ID, zero
// requeues, and both timestamps set to now.
func PrepareEnqueue(msg *Message, now time.Time) (*Message, error) {
	if err := Validate(msg); err != nil {
		return nil, err
	}
	now = Truncate(now)
	c := msg.Clone()
	c.ID = NewID()
	c.NumRequeues = 0
	c.OriginalTimestamp = now
	c.Timestamp = now
	return c, nil
}

// PrepareRequeue returns the clone to store for a requeue. When silent is
// false the requeue counter is incremented and Timestamp set to now. A
// message without an ID is given one.
func PrepareRequeue(msg *Message, now time.Time, silent bool) (*Message, error) {
	if err := Validate(msg); err != nil {
		return nil, err
	}
	c := msg.Clone()
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.OriginalTimestamp.IsZero() {
		c.OriginalTimestamp = Truncate(now)
	}
	if !silent {
		c.NumRequeues++
		c.Timestamp = Truncate(now)
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = c.OriginalTimestamp
	}
	return c, nil
}

// IsOrphan reports whether msg has been in flight for at least threshold.
func IsOrphan(msg *Message, now time.Time, threshold time.Duration) bool {
	return now.Sub(msg.Timestamp) >= threshold
}

// Validate rejects messages that no queue can store.
func Validate(msg *Message) error {
	if msg == nil {
		return InvalidArgument("nil message")
	}
	return nil
}
