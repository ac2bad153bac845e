package workqueue

import (
	"context"
	"fmt"

	"github.com/rzbill/durq/internal/storage"
	"github.com/rzbill/durq/pkg/log"
	"github.com/rzbill/durq/pkg/queue"
	"go.uber.org/multierr"
)

// Take moves the next pending message into the ephemeral partition and
// returns it. It returns (nil, nil) when main is empty and
// ErrCapacityExceeded when the ephemeral partition is full.
func (q *Queue) Take(ctx context.Context) (*queue.Message, error) {
	done, err := q.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	q.takeMu.Lock()
	defer q.takeMu.Unlock()

	if !q.opts.EphemeralDisabled && q.opts.EphemeralMaxSize > 0 {
		n, err := q.store.Count(storage.Ephemeral)
		if err != nil {
			return nil, queue.StorageError("count ephemeral", err)
		}
		if q.opts.CapacityReached(n) {
			return nil, queue.CapacityError("ephemeral store", q.opts.EphemeralMaxSize)
		}
	}

	key, val, ok, err := q.store.Seek(storage.Main, q.cursor)
	if err == nil && !ok && q.cursor != nil {
		// Keys behind the cursor appear only when they were written by a
		// generator that had not yet observed it; wrap around once.
		key, val, ok, err = q.store.Seek(storage.Main, nil)
		if ok {
			q.logger.Warn("take wrapped around behind cursor")
		}
	}
	if err != nil {
		return nil, queue.StorageError("seek main", err)
	}
	if !ok {
		return nil, nil
	}

	msg, err := queue.Decode(q.opts.Codec, val)
	if err != nil {
		q.logger.Error("undecodable message in main, moved aside",
			log.Err(err), log.Int("bytes", len(val)), log.Str("key", fmt.Sprintf("%x", key)))
		return nil, q.setAside(ctx, key, val, err)
	}

	ops := []storage.Op{
		storage.Delete(storage.Main, key),
		storage.Put(storage.Metadata, cursorKey, key),
	}
	if !q.opts.EphemeralDisabled {
		if msg.ID == "" {
			msg.ID = queue.NewID()
			if val, err = queue.Encode(q.opts.Codec, msg); err != nil {
				return nil, err
			}
		}
		ops = append(ops, storage.Put(storage.Ephemeral, ephemeralKey(msg.ID), val))
	}
	if err := q.store.Apply(ctx, ops...); err != nil {
		return nil, queue.StorageError("take", err)
	}
	q.cursor = key
	return msg, nil
}

// setAside moves an undecodable main entry under a dead key in metadata and
// advances the cursor past it, so later takes reach the messages behind it.
// cause is returned either way.
func (q *Queue) setAside(ctx context.Context, key, val []byte, cause error) error {
	err := q.store.Apply(ctx,
		storage.Delete(storage.Main, key),
		storage.Put(storage.Metadata, deadKey(key), val),
		storage.Put(storage.Metadata, cursorKey, key),
	)
	if err != nil {
		return multierr.Append(cause, queue.StorageError("set aside undecodable", err))
	}
	q.cursor = key
	return cause
}
