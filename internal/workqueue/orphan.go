package workqueue

import (
	"context"
	"errors"
	"time"

	"github.com/rzbill/durq/internal/storage"
	"github.com/rzbill/durq/pkg/queue"
)

// OrphanScan lists in-flight messages whose Timestamp is at least threshold
// old. It reads a consistent view of the ephemeral partition and modifies
// nothing. Only one scan runs at a time.
func (q *Queue) OrphanScan(ctx context.Context, threshold time.Duration) ([]*queue.Message, error) {
	done, err := q.enter()
	if err != nil {
		return nil, err
	}
	defer done()
	if threshold < 0 {
		return nil, queue.InvalidArgument("negative orphan threshold")
	}
	if q.opts.EphemeralDisabled {
		return nil, nil
	}

	q.scanMu.Lock()
	defer q.scanMu.Unlock()

	now := q.opts.Now()
	var orphans []*queue.Message
	err = q.store.Scan(storage.Ephemeral, func(_, value []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := queue.Decode(q.opts.Codec, value)
		if err != nil {
			return err
		}
		if queue.IsOrphan(msg, now, threshold) {
			orphans = append(orphans, msg)
		}
		return nil
	})
	switch {
	case err == nil:
		return orphans, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, queue.ErrSerialization):
		return nil, err
	default:
		return nil, queue.StorageError("scan ephemeral", err)
	}
}
