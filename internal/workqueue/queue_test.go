package workqueue

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rzbill/durq/internal/queuetest"
	"github.com/rzbill/durq/internal/storage"
	boltstore "github.com/rzbill/durq/internal/storage/bolt"
	pebblestore "github.com/rzbill/durq/internal/storage/pebble"
	"github.com/rzbill/durq/pkg/codec"
	"github.com/rzbill/durq/pkg/queue"
)

func openPebble(t *testing.T, dir string) storage.Store {
	t.Helper()
	ks, err := pebblestore.OpenKeyspace(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways}, "jobs", storage.PartitionNames{})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	return ks
}

func openBolt(t *testing.T, dir string) storage.Store {
	t.Helper()
	s, err := boltstore.Open(boltstore.Options{Path: filepath.Join(dir, "queue.db"), Queue: "jobs"})
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	return s
}

func openQueue(t *testing.T, store storage.Store, o queuetest.Options) *Queue {
	t.Helper()
	q, err := Open(store, Options{Options: o.QueueOptions()})
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	return q
}

func factory(open func(*testing.T, string) storage.Store) queuetest.Factory {
	return func(t *testing.T, o queuetest.Options) queue.Queue {
		q := openQueue(t, open(t, t.TempDir()), o)
		t.Cleanup(func() { _ = q.Close() })
		return q
	}
}

func reopener(open func(*testing.T, string) storage.Store) queuetest.Reopener {
	return func(t *testing.T) func(queuetest.Options) queue.Queue {
		dir := t.TempDir()
		return func(o queuetest.Options) queue.Queue {
			return openQueue(t, open(t, dir), o)
		}
	}
}

func TestPebbleConformance(t *testing.T) {
	queuetest.Run(t, factory(openPebble))
	queuetest.RunDurable(t, reopener(openPebble))
}

func TestBoltConformance(t *testing.T) {
	queuetest.Run(t, factory(openBolt))
	queuetest.RunDurable(t, reopener(openBolt))
}

func TestTakePersistsCursor(t *testing.T) {
	ctx := context.Background()
	store := openPebble(t, t.TempDir())
	q := openQueue(t, store, queuetest.Options{})
	defer q.Close()

	if _, err := q.Enqueue(ctx, queue.NewMessage([]byte("a"))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	mainKey, _, ok, err := store.Seek(storage.Main, nil)
	if err != nil || !ok {
		t.Fatalf("seek main: ok=%v err=%v", ok, err)
	}
	if _, err := q.Take(ctx); err != nil {
		t.Fatalf("take: %v", err)
	}

	cursor, ok, err := store.Get(storage.Metadata, cursorKey)
	if err != nil || !ok {
		t.Fatalf("cursor missing: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(cursor, mainKey) {
		t.Fatalf("cursor=%x want %x", cursor, mainKey)
	}
}

func TestTakeWrapsAroundBehindCursor(t *testing.T) {
	ctx := context.Background()
	store := openBolt(t, t.TempDir())

	val, err := queue.Encode(codec.Default(), &queue.Message{ID: "stray", Payload: []byte("x")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	behind := make([]byte, 16)
	behind[15] = 1
	ahead := bytes.Repeat([]byte{0x7f}, 16)
	if err := store.Apply(ctx,
		storage.Put(storage.Main, behind, val),
		storage.Put(storage.Metadata, cursorKey, ahead),
	); err != nil {
		t.Fatalf("seed: %v", err)
	}

	q := openQueue(t, store, queuetest.Options{})
	defer q.Close()
	m, err := q.Take(ctx)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if m == nil || m.ID != "stray" {
		t.Fatalf("take=%+v, want the stray message", m)
	}

	// new keys sort after the restored cursor
	if _, err := q.Enqueue(ctx, queue.NewMessage([]byte("y"))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	k, _, ok, err := store.Seek(storage.Main, nil)
	if err != nil || !ok {
		t.Fatalf("seek: %v %v", ok, err)
	}
	if bytes.Compare(k, ahead) <= 0 {
		t.Fatalf("new key %x does not sort after cursor %x", k, ahead)
	}
}

func TestTakeSetsAsideUndecodable(t *testing.T) {
	ctx := context.Background()
	store := openPebble(t, t.TempDir())
	badKey := make([]byte, 16)
	if err := store.Apply(ctx, storage.Put(storage.Main, badKey, []byte("garbage"))); err != nil {
		t.Fatalf("seed: %v", err)
	}
	q := openQueue(t, store, queuetest.Options{})
	defer q.Close()
	good, err := q.Enqueue(ctx, queue.NewMessage([]byte("ok")))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := q.Take(ctx); !errors.Is(err, queue.ErrSerialization) {
		t.Fatalf("take err=%v, want serialization failure", err)
	}
	dead, ok, err := store.Get(storage.Metadata, deadKey(badKey))
	if err != nil || !ok || string(dead) != "garbage" {
		t.Fatalf("dead entry: %q ok=%v err=%v", dead, ok, err)
	}
	if n, _ := q.EphemeralSize(ctx); n != 0 {
		t.Fatalf("ephemeral size=%d", n)
	}

	m, err := q.Take(ctx)
	if err != nil {
		t.Fatalf("take after bad entry: %v", err)
	}
	if m == nil || m.ID != good.ID {
		t.Fatalf("take=%+v, want %s", m, good.ID)
	}
}

type failingStore struct {
	storage.Store
	err error
}

func (s failingStore) Apply(context.Context, ...storage.Op) error { return s.err }

func TestStorageFailuresAreWrapped(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk on fire")
	inner := openPebble(t, t.TempDir())
	q := openQueue(t, failingStore{Store: inner, err: boom}, queuetest.Options{})
	defer q.Close()

	_, err := q.Enqueue(ctx, queue.NewMessage([]byte("a")))
	if !errors.Is(err, queue.ErrStorageUnavailable) || !errors.Is(err, boom) {
		t.Fatalf("enqueue err=%v", err)
	}
	if err := q.Finish(ctx, &queue.Message{ID: "x"}); !errors.Is(err, queue.ErrStorageUnavailable) {
		t.Fatalf("finish err=%v", err)
	}
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t, openBolt(t, t.TempDir()), queuetest.Options{})
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := q.Enqueue(ctx, queue.NewMessage(nil)); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("enqueue after close: %v", err)
	}
	if _, err := q.Take(ctx); !errors.Is(err, queue.ErrStorageUnavailable) {
		t.Fatalf("take after close: %v", err)
	}
}

// trackingStore fails Apply on demand and records Close.
type trackingStore struct {
	storage.Store
	failApply atomic.Bool
	err       error
	closed    atomic.Bool
}

func (s *trackingStore) Apply(ctx context.Context, ops ...storage.Op) error {
	if s.failApply.Load() {
		return s.err
	}
	return s.Store.Apply(ctx, ops...)
}

func (s *trackingStore) Close() error {
	s.closed.Store(true)
	return s.Store.Close()
}

func TestCloseWhenCursorPersistFails(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("read-only filesystem")
	store := &trackingStore{Store: openBolt(t, t.TempDir()), err: boom}
	q := openQueue(t, store, queuetest.Options{})

	if _, err := q.Enqueue(ctx, queue.NewMessage([]byte("a"))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Take(ctx); err != nil {
		t.Fatalf("take: %v", err)
	}
	store.failApply.Store(true)

	err := q.Close()
	if !errors.Is(err, queue.ErrStorageUnavailable) || !errors.Is(err, boom) {
		t.Fatalf("close err=%v", err)
	}
	if !store.closed.Load() {
		t.Fatalf("store left open after failed cursor persist")
	}
}

// slowCountStore signals when Count starts and then stalls.
type slowCountStore struct {
	storage.Store
	entered chan struct{}
	delay   time.Duration
}

func (s *slowCountStore) Count(p storage.Partition) (int, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	time.Sleep(s.delay)
	return s.Store.Count(p)
}

func TestCloseWaitsForRunningReads(t *testing.T) {
	ctx := context.Background()
	store := &slowCountStore{Store: openPebble(t, t.TempDir()), entered: make(chan struct{}, 1), delay: 50 * time.Millisecond}
	q := openQueue(t, store, queuetest.Options{})

	type result struct {
		n   int
		err error
	}
	res := make(chan result, 1)
	go func() {
		n, err := q.QueueSize(ctx)
		res <- result{n, err}
	}()
	<-store.entered

	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	r := <-res
	if r.err != nil || r.n != 0 {
		t.Fatalf("queue size racing close: n=%d err=%v", r.n, r.err)
	}
	if _, err := q.QueueSize(ctx); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("queue size after close: %v", err)
	}
	if _, err := q.OrphanScan(ctx, time.Minute); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("orphan scan after close: %v", err)
	}
}

func TestOrphanScanRejectsNegativeThreshold(t *testing.T) {
	q := openQueue(t, openPebble(t, t.TempDir()), queuetest.Options{})
	defer q.Close()
	if _, err := q.OrphanScan(context.Background(), -1); !errors.Is(err, queue.ErrInvalidArgument) {
		t.Fatalf("err=%v", err)
	}
}
