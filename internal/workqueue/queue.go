package workqueue

import (
	"context"
	"sync"

	"github.com/rzbill/durq/internal/storage"
	"github.com/rzbill/durq/pkg/codec"
	"github.com/rzbill/durq/pkg/id"
	"github.com/rzbill/durq/pkg/log"
	"github.com/rzbill/durq/pkg/queue"
	"go.uber.org/multierr"
)

// Options configure a Queue.
type Options struct {
	queue.Options
	// Logger defaults to a no-op logger.
	Logger log.Logger
}

// Queue is a persistent at-least-once queue over a storage.Store.
type Queue struct {
	store  storage.Store
	opts   queue.Options
	logger log.Logger
	keys   *id.Generator

	// putMu serializes producers: key allocation and the main write happen
	// together so main order matches lock order.
	putMu sync.Mutex

	// takeMu guards cursor and the capacity check.
	takeMu sync.Mutex
	cursor []byte

	scanMu sync.Mutex

	// lifeMu is held shared by every operation touching the store and
	// exclusively by Close.
	lifeMu    sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

var _ queue.Queue = (*Queue)(nil)

// Open restores the cursor from store and returns a ready queue. The queue
// owns store and closes it on Close.
func Open(store storage.Store, opts Options) (*Queue, error) {
	q := &Queue{
		store:  store,
		opts:   opts.Options.WithDefaults(codec.Default()),
		logger: opts.Logger,
		keys:   id.NewGenerator(),
	}
	if q.logger == nil {
		q.logger = log.NewNop()
	}

	cursor, ok, err := store.Get(storage.Metadata, cursorKey)
	if err != nil {
		return nil, queue.StorageError("load cursor", err)
	}
	if ok && len(cursor) > 0 {
		q.cursor = cursor
	}
	max, err := floor(store, q.cursor)
	if err != nil {
		return nil, queue.StorageError("load last key", err)
	}
	q.keys.Observe(max)

	q.logger.Debug("queue opened",
		log.Bool("cursor", q.cursor != nil),
		log.Bool("ephemeral", !q.opts.EphemeralDisabled),
		log.Int("ephemeral_max", q.opts.EphemeralMaxSize))
	return q, nil
}

// enter admits an operation until Close. The returned func must be called
// when the operation no longer uses the store.
func (q *Queue) enter() (func(), error) {
	q.lifeMu.RLock()
	if q.closed {
		q.lifeMu.RUnlock()
		return nil, queue.ErrClosed
	}
	return q.lifeMu.RUnlock, nil
}

// Enqueue stores a copy of msg with a fresh ID and both timestamps set to now.
func (q *Queue) Enqueue(ctx context.Context, msg *queue.Message) (*queue.Message, error) {
	done, err := q.enter()
	if err != nil {
		return nil, err
	}
	defer done()
	m, err := queue.PrepareEnqueue(msg, q.opts.Now())
	if err != nil {
		return nil, err
	}
	val, err := queue.Encode(q.opts.Codec, m)
	if err != nil {
		return nil, err
	}

	q.putMu.Lock()
	defer q.putMu.Unlock()
	key := q.keys.Next()
	if err := q.store.Apply(ctx, storage.Put(storage.Main, key.Bytes(), val)); err != nil {
		return nil, queue.StorageError("enqueue", err)
	}
	return m, nil
}

// Requeue returns msg to main with NumRequeues incremented and Timestamp set
// to now.
func (q *Queue) Requeue(ctx context.Context, msg *queue.Message) error {
	return q.requeue(ctx, msg, false)
}

// RequeueSilent returns msg to main without touching its bookkeeping.
func (q *Queue) RequeueSilent(ctx context.Context, msg *queue.Message) error {
	return q.requeue(ctx, msg, true)
}

func (q *Queue) requeue(ctx context.Context, msg *queue.Message, silent bool) error {
	done, err := q.enter()
	if err != nil {
		return err
	}
	defer done()
	m, err := queue.PrepareRequeue(msg, q.opts.Now(), silent)
	if err != nil {
		return err
	}
	val, err := queue.Encode(q.opts.Codec, m)
	if err != nil {
		return err
	}

	q.putMu.Lock()
	defer q.putMu.Unlock()
	key := q.keys.Next()
	ops := []storage.Op{storage.Put(storage.Main, key.Bytes(), val)}
	if !q.opts.EphemeralDisabled {
		ops = append(ops, storage.Delete(storage.Ephemeral, ephemeralKey(m.ID)))
	}
	if err := q.store.Apply(ctx, ops...); err != nil {
		return queue.StorageError("requeue", err)
	}
	return nil
}

// Finish removes msg from the ephemeral partition. Unknown IDs are ignored.
func (q *Queue) Finish(ctx context.Context, msg *queue.Message) error {
	if err := queue.Validate(msg); err != nil {
		return err
	}
	done, err := q.enter()
	if err != nil {
		return err
	}
	defer done()
	if q.opts.EphemeralDisabled || msg.ID == "" {
		return nil
	}
	if err := q.store.Apply(ctx, storage.Delete(storage.Ephemeral, ephemeralKey(msg.ID))); err != nil {
		return queue.StorageError("finish", err)
	}
	return nil
}

// QueueSize counts pending messages.
func (q *Queue) QueueSize(ctx context.Context) (int, error) {
	return q.count(ctx, storage.Main)
}

// EphemeralSize counts in-flight messages. It is zero when ephemeral
// tracking is disabled.
func (q *Queue) EphemeralSize(ctx context.Context) (int, error) {
	if q.opts.EphemeralDisabled {
		return 0, nil
	}
	return q.count(ctx, storage.Ephemeral)
}

func (q *Queue) count(ctx context.Context, p storage.Partition) (int, error) {
	done, err := q.enter()
	if err != nil {
		return 0, err
	}
	defer done()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := q.store.Count(p)
	if err != nil {
		return 0, queue.StorageError("count "+p.String(), err)
	}
	return n, nil
}

// Ping reports whether the underlying store is usable.
func (q *Queue) Ping(ctx context.Context) error {
	done, err := q.enter()
	if err != nil {
		return err
	}
	defer done()
	if err := q.store.Ping(ctx); err != nil {
		return queue.StorageError("ping", err)
	}
	return nil
}

// Close waits for every running operation, persists the cursor and closes
// the store. A failed cursor write is logged and reported but does not
// prevent the store from closing; the cursor is rewritten by every Take, so
// at most the last one is lost.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		q.lifeMu.Lock()
		defer q.lifeMu.Unlock()
		q.closed = true
		cursor := q.cursor

		var persistErr error
		if cursor != nil {
			persistErr = q.store.Apply(context.Background(), storage.Put(storage.Metadata, cursorKey, cursor))
			if persistErr != nil {
				q.logger.Error("persist cursor on close failed", log.Err(persistErr))
				persistErr = queue.StorageError("persist cursor", persistErr)
			}
		}
		q.closeErr = multierr.Append(persistErr, q.store.Close())
	})
	return q.closeErr
}
