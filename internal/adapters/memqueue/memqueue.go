// Package memqueue is a volatile queue.Queue held in process memory. It is
// used in tests and for workloads that accept losing queued work on restart.
package memqueue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rzbill/durq/pkg/queue"
)

// Options configure a Queue.
type Options struct {
	queue.Options
	// Boundary caps the pending list. Zero means unbounded.
	Boundary int
}

// Queue keeps pending messages in a list and in-flight messages in a map.
// Messages are stored as clones; nothing is encoded.
type Queue struct {
	opts     queue.Options
	boundary int

	putMu    sync.Mutex
	takeMu   sync.Mutex
	mu       sync.Mutex // guards pending and inflight
	pending  *list.List
	inflight map[string]*queue.Message

	closed bool
}

var _ queue.Queue = (*Queue)(nil)

// New returns an empty queue.
func New(opts Options) *Queue {
	o := opts.Options.WithDefaults(nil)
	b := opts.Boundary
	if b < 0 {
		b = 0
	}
	return &Queue{
		opts:     o,
		boundary: b,
		pending:  list.New(),
		inflight: make(map[string]*queue.Message),
	}
}

func (q *Queue) push(m *queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}
	if q.boundary > 0 && q.pending.Len() >= q.boundary {
		return queue.CapacityError("queue", q.boundary)
	}
	q.pending.PushBack(m)
	if !q.opts.EphemeralDisabled {
		delete(q.inflight, m.ID)
	}
	return nil
}

// Enqueue appends a copy of msg. It returns ErrCapacityExceeded when the
// queue holds Boundary messages.
func (q *Queue) Enqueue(ctx context.Context, msg *queue.Message) (*queue.Message, error) {
	m, err := queue.PrepareEnqueue(msg, q.opts.Now())
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.putMu.Lock()
	defer q.putMu.Unlock()
	if err := q.push(m); err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// Requeue appends msg with NumRequeues incremented.
func (q *Queue) Requeue(ctx context.Context, msg *queue.Message) error {
	return q.requeue(ctx, msg, false)
}

// RequeueSilent appends msg unchanged.
func (q *Queue) RequeueSilent(ctx context.Context, msg *queue.Message) error {
	return q.requeue(ctx, msg, true)
}

func (q *Queue) requeue(ctx context.Context, msg *queue.Message, silent bool) error {
	m, err := queue.PrepareRequeue(msg, q.opts.Now(), silent)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	q.putMu.Lock()
	defer q.putMu.Unlock()
	return q.push(m)
}

// Take pops the head of the pending list.
func (q *Queue) Take(ctx context.Context) (*queue.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.takeMu.Lock()
	defer q.takeMu.Unlock()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, queue.ErrClosed
	}
	if q.opts.CapacityReached(len(q.inflight)) {
		return nil, queue.CapacityError("ephemeral store", q.opts.EphemeralMaxSize)
	}
	front := q.pending.Front()
	if front == nil {
		return nil, nil
	}
	m := q.pending.Remove(front).(*queue.Message)
	if !q.opts.EphemeralDisabled {
		q.inflight[m.ID] = m
	}
	return m.Clone(), nil
}

// Finish forgets msg. Unknown IDs are ignored.
func (q *Queue) Finish(_ context.Context, msg *queue.Message) error {
	if err := queue.Validate(msg); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}
	delete(q.inflight, msg.ID)
	return nil
}

// OrphanScan lists in-flight messages at least threshold old.
func (q *Queue) OrphanScan(_ context.Context, threshold time.Duration) ([]*queue.Message, error) {
	if threshold < 0 {
		return nil, queue.InvalidArgument("negative orphan threshold")
	}
	now := q.opts.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, queue.ErrClosed
	}
	var out []*queue.Message
	for _, m := range q.inflight {
		if queue.IsOrphan(m, now, threshold) {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

// QueueSize returns the pending count.
func (q *Queue) QueueSize(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len(), nil
}

// EphemeralSize returns the in-flight count.
func (q *Queue) EphemeralSize(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight), nil
}

// Close drops all messages.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.pending.Init()
	q.inflight = make(map[string]*queue.Message)
	return nil
}
