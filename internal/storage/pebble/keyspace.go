package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/rzbill/durq/internal/storage"
)

// Keyspace is a storage.Store over a shared DB. Each partition of a queue is
// a key prefix: q/{queue}/{partition}/.
type Keyspace struct {
	db       *DB
	ownsDB   bool
	prefixes [3][]byte
	metrics  MetricsHook
}

var _ storage.Store = (*Keyspace)(nil)

// NewKeyspace binds queue's partitions inside db. The caller keeps ownership
// of db.
func NewKeyspace(db *DB, queue string, names storage.PartitionNames) (*Keyspace, error) {
	if db == nil {
		return nil, errors.New("pebble: nil db")
	}
	names = names.WithDefaults()
	if err := names.Validate(); err != nil {
		return nil, err
	}
	for _, s := range []string{queue, names.Main, names.Ephemeral, names.Metadata} {
		if s == "" || strings.Contains(s, "/") {
			return nil, fmt.Errorf("pebble: invalid keyspace name %q", s)
		}
	}
	ks := &Keyspace{db: db, metrics: db.metrics}
	for _, p := range []storage.Partition{storage.Main, storage.Ephemeral, storage.Metadata} {
		ks.prefixes[p] = []byte(fmt.Sprintf("q/%s/%s/", queue, names.Name(p)))
	}
	return ks, nil
}

// OpenKeyspace opens a DB dedicated to one queue. Closing the Keyspace closes
// the DB.
func OpenKeyspace(opts Options, queue string, names storage.PartitionNames) (*Keyspace, error) {
	db, err := Open(opts)
	if err != nil {
		return nil, err
	}
	ks, err := NewKeyspace(db, queue, names)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	ks.ownsDB = true
	return ks, nil
}

// DB exposes the underlying database.
func (ks *Keyspace) DB() *DB { return ks.db }

func (ks *Keyspace) key(p storage.Partition, k []byte) []byte {
	prefix := ks.prefixes[p]
	out := make([]byte, len(prefix)+len(k))
	copy(out, prefix)
	copy(out[len(prefix):], k)
	return out
}

func (ks *Keyspace) iter(p storage.Partition) (*pebble.Iterator, error) {
	lo, hi := keyRange(ks.prefixes[p])
	return ks.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
}

// entry copies the iterator's current entry with the partition prefix removed.
func (ks *Keyspace) entry(p storage.Partition, it *pebble.Iterator) ([]byte, []byte) {
	k := append([]byte(nil), it.Key()[len(ks.prefixes[p]):]...)
	v := append([]byte(nil), it.Value()...)
	return k, v
}

func (ks *Keyspace) Seek(p storage.Partition, from []byte) ([]byte, []byte, bool, error) {
	start := time.Now()
	it, err := ks.iter(p)
	if err != nil {
		return nil, nil, false, err
	}
	defer it.Close()

	var valid bool
	if from == nil {
		valid = it.First()
	} else {
		valid = it.SeekGE(ks.key(p, from))
	}
	if !valid {
		return nil, nil, false, it.Error()
	}
	k, v := ks.entry(p, it)
	ks.metrics.ObserveRead(time.Since(start), len(v))
	return k, v, true, nil
}

func (ks *Keyspace) Get(p storage.Partition, key []byte) ([]byte, bool, error) {
	v, err := ks.db.Get(ks.key(p, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (ks *Keyspace) Last(p storage.Partition) ([]byte, bool, error) {
	it, err := ks.iter(p)
	if err != nil {
		return nil, false, err
	}
	defer it.Close()
	if !it.Last() {
		return nil, false, it.Error()
	}
	k, _ := ks.entry(p, it)
	return k, true, nil
}

func (ks *Keyspace) Scan(p storage.Partition, fn func(key, value []byte) error) error {
	it, err := ks.iter(p)
	if err != nil {
		return err
	}
	defer it.Close()
	for ok := it.First(); ok; ok = it.Next() {
		k, v := ks.entry(p, it)
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return it.Error()
}

func (ks *Keyspace) Count(p storage.Partition) (int, error) {
	it, err := ks.iter(p)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	n := 0
	for ok := it.First(); ok; ok = it.Next() {
		n++
	}
	return n, it.Error()
}

func (ks *Keyspace) Apply(ctx context.Context, ops ...storage.Op) error {
	if len(ops) == 0 {
		return nil
	}
	start := time.Now()
	b := ks.db.NewBatch()
	defer b.Close()
	bytes := 0
	for _, op := range ops {
		bytes += len(op.Key) + len(op.Value)
		var err error
		switch op.Kind {
		case storage.OpPut:
			err = b.Set(ks.key(op.Partition, op.Key), op.Value, nil)
		case storage.OpDelete:
			err = b.Delete(ks.key(op.Partition, op.Key), nil)
		default:
			err = fmt.Errorf("pebble: unknown op kind %d", op.Kind)
		}
		if err != nil {
			return err
		}
	}
	if err := ks.db.CommitBatch(ctx, b); err != nil {
		return err
	}
	ks.metrics.ObserveWrite(time.Since(start), bytes)
	return nil
}

func (ks *Keyspace) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	it, err := ks.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// Close closes the DB when the Keyspace opened it.
func (ks *Keyspace) Close() error {
	if !ks.ownsDB {
		return nil
	}
	return ks.db.Close()
}

// keyRange returns [prefix, successor(prefix)) bounds for a prefix scan.
func keyRange(prefix []byte) ([]byte, []byte) {
	start := append([]byte(nil), prefix...)
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return start, end[:i+1]
		}
	}
	return start, nil
}
