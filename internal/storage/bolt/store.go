package boltstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rzbill/durq/internal/storage"
	"go.etcd.io/bbolt"
	"go.uber.org/multierr"
)

// Options configures a bbolt-backed store.
type Options struct {
	// Path is the database file.
	Path string
	// Queue names the top-level bucket. Several queues may share a file.
	Queue string
	// Partitions names the nested buckets.
	Partitions storage.PartitionNames
	// NoSync skips fsync after each commit.
	NoSync bool
	// Timeout bounds waiting for the file lock. Defaults to one second.
	Timeout time.Duration
}

// Store is a storage.Store backed by one bbolt file. The queue is a bucket
// holding one nested bucket per partition.
type Store struct {
	db      *bbolt.DB
	queue   []byte
	buckets [3][]byte
}

var _ storage.Store = (*Store)(nil)

// Open opens (creating if needed) the file and the queue's buckets.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("bolt: Options.Path is required")
	}
	if opts.Queue == "" {
		return nil, errors.New("bolt: Options.Queue is required")
	}
	names := opts.Partitions.WithDefaults()
	if err := names.Validate(); err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}

	db, err := bbolt.Open(opts.Path, 0o600, &bbolt.Options{Timeout: opts.Timeout, NoSync: opts.NoSync})
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, queue: []byte(opts.Queue)}
	for _, p := range []storage.Partition{storage.Main, storage.Ephemeral, storage.Metadata} {
		s.buckets[p] = []byte(names.Name(p))
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(s.queue)
		if err != nil {
			return err
		}
		for _, name := range s.buckets {
			if _, err := root.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("bolt: create buckets: %w", err), db.Close())
	}
	return s, nil
}

// bucket resolves the nested bucket of p. Buckets are created by Open, so a
// missing bucket means the file was modified underneath us.
func (s *Store) bucket(tx *bbolt.Tx, p storage.Partition) (*bbolt.Bucket, error) {
	root := tx.Bucket(s.queue)
	if root == nil {
		return nil, fmt.Errorf("bolt: bucket %q missing", s.queue)
	}
	b := root.Bucket(s.buckets[p])
	if b == nil {
		return nil, fmt.Errorf("bolt: bucket %q/%q missing", s.queue, s.buckets[p])
	}
	return b, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

func (s *Store) Seek(p storage.Partition, from []byte) (key, value []byte, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b, err := s.bucket(tx, p)
		if err != nil {
			return err
		}
		c := b.Cursor()
		var k, v []byte
		if from == nil {
			k, v = c.First()
		} else {
			k, v = c.Seek(from)
		}
		if k != nil {
			key, value, ok = clone(k), clone(v), true
		}
		return nil
	})
	return key, value, ok, err
}

func (s *Store) Get(p storage.Partition, key []byte) (value []byte, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b, err := s.bucket(tx, p)
		if err != nil {
			return err
		}
		// a cursor distinguishes empty values from missing keys
		if k, v := b.Cursor().Seek(key); k != nil && bytes.Equal(k, key) {
			value, ok = clone(v), true
		}
		return nil
	})
	return value, ok, err
}

func (s *Store) Last(p storage.Partition) (key []byte, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b, err := s.bucket(tx, p)
		if err != nil {
			return err
		}
		if k, _ := b.Cursor().Last(); k != nil {
			key, ok = clone(k), true
		}
		return nil
	})
	return key, ok, err
}

func (s *Store) Scan(p storage.Partition, fn func(key, value []byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b, err := s.bucket(tx, p)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(clone(k), clone(v))
		})
	})
}

func (s *Store) Count(p storage.Partition) (n int, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b, err := s.bucket(tx, p)
		if err != nil {
			return err
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

func (s *Store) Apply(ctx context.Context, ops ...storage.Op) error {
	if len(ops) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, op := range ops {
			b, err := s.bucket(tx, op.Partition)
			if err != nil {
				return err
			}
			switch op.Kind {
			case storage.OpPut:
				// bbolt rejects nil values
				v := op.Value
				if v == nil {
					v = []byte{}
				}
				err = b.Put(op.Key, v)
			case storage.OpDelete:
				err = b.Delete(op.Key)
			default:
				err = fmt.Errorf("bolt: unknown op kind %d", op.Kind)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		_, err := s.bucket(tx, storage.Metadata)
		return err
	})
}

// Close syncs and closes the file.
func (s *Store) Close() error {
	var err error
	if !s.db.IsReadOnly() {
		err = s.db.Sync()
	}
	return multierr.Append(err, s.db.Close())
}
