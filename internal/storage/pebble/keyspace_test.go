package pebblestore

import (
	"context"
	"testing"

	"github.com/rzbill/durq/internal/storage"
)

func newTestKeyspace(t *testing.T, db *DB, queue string) *Keyspace {
	t.Helper()
	ks, err := NewKeyspace(db, queue, storage.PartitionNames{})
	if err != nil {
		t.Fatalf("keyspace: %v", err)
	}
	return ks
}

func TestKeyspacePartitionsAreIsolated(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()
	jobs := newTestKeyspace(t, db, "jobs")
	mail := newTestKeyspace(t, db, "mail")

	if err := jobs.Apply(ctx,
		storage.Put(storage.Main, []byte("k1"), []byte("main")),
		storage.Put(storage.Ephemeral, []byte("k1"), []byte("eph")),
	); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := mail.Apply(ctx, storage.Put(storage.Main, []byte("k0"), []byte("other"))); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if n, _ := jobs.Count(storage.Main); n != 1 {
		t.Fatalf("jobs main count=%d", n)
	}
	if n, _ := jobs.Count(storage.Metadata); n != 0 {
		t.Fatalf("jobs metadata count=%d", n)
	}
	v, ok, err := jobs.Get(storage.Ephemeral, []byte("k1"))
	if err != nil || !ok || string(v) != "eph" {
		t.Fatalf("get ephemeral: %q %v %v", v, ok, err)
	}
	k, v, ok, err := mail.Seek(storage.Main, nil)
	if err != nil || !ok || string(k) != "k0" || string(v) != "other" {
		t.Fatalf("mail seek: %q %q %v %v", k, v, ok, err)
	}
}

func TestKeyspaceSeekAndLast(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()
	ks := newTestKeyspace(t, db, "q")

	for _, k := range []string{"b", "d", "f"} {
		if err := ks.Apply(ctx, storage.Put(storage.Main, []byte(k), []byte(k+"v"))); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	tests := []struct {
		from string
		want string
		ok   bool
	}{
		{"", "b", true},
		{"b", "b", true},
		{"c", "d", true},
		{"f", "f", true},
		{"g", "", false},
	}
	for _, tt := range tests {
		var from []byte
		if tt.from != "" {
			from = []byte(tt.from)
		}
		k, _, ok, err := ks.Seek(storage.Main, from)
		if err != nil {
			t.Fatalf("seek %q: %v", tt.from, err)
		}
		if ok != tt.ok || string(k) != tt.want {
			t.Fatalf("seek %q: got %q,%v want %q,%v", tt.from, k, ok, tt.want, tt.ok)
		}
	}

	last, ok, err := ks.Last(storage.Main)
	if err != nil || !ok || string(last) != "f" {
		t.Fatalf("last: %q %v %v", last, ok, err)
	}
	if _, ok, _ := ks.Last(storage.Ephemeral); ok {
		t.Fatalf("empty partition has no last key")
	}
}

func TestKeyspaceBatchIsAtomic(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()
	ks := newTestKeyspace(t, db, "q")

	_ = ks.Apply(ctx, storage.Put(storage.Main, []byte("k"), []byte("v")))
	err := ks.Apply(ctx,
		storage.Delete(storage.Main, []byte("k")),
		storage.Op{Kind: storage.OpKind(99), Partition: storage.Ephemeral, Key: []byte("x")},
	)
	if err == nil {
		t.Fatalf("expected error for unknown op")
	}
	if _, ok, _ := ks.Get(storage.Main, []byte("k")); !ok {
		t.Fatalf("failed batch must not apply its delete")
	}
}

func TestKeyspaceScanStopsOnError(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()
	ks := newTestKeyspace(t, db, "q")
	for _, k := range []string{"a", "b", "c"} {
		_ = ks.Apply(ctx, storage.Put(storage.Ephemeral, []byte(k), nil))
	}
	var seen []string
	stop := context.Canceled
	err := ks.Scan(storage.Ephemeral, func(k, _ []byte) error {
		seen = append(seen, string(k))
		if len(seen) == 2 {
			return stop
		}
		return nil
	})
	if err != stop || len(seen) != 2 {
		t.Fatalf("scan: err=%v seen=%v", err, seen)
	}
}

func TestOpenKeyspaceOwnsDB(t *testing.T) {
	ks, err := OpenKeyspace(Options{DataDir: t.TempDir(), Fsync: FsyncModeAlways}, "q", storage.PartitionNames{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := ks.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := ks.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestKeyRangeSuccessor(t *testing.T) {
	lo, hi := keyRange([]byte("q/a/"))
	if string(lo) != "q/a/" || string(hi) != "q/a0" {
		t.Fatalf("got [%q, %q)", lo, hi)
	}
	if _, hi := keyRange([]byte{0xff, 0xff}); hi != nil {
		t.Fatalf("all-0xff prefix has no successor")
	}
}

func TestNewKeyspaceRejectsBadNames(t *testing.T) {
	db, _ := newTestDB(t)
	if _, err := NewKeyspace(db, "a/b", storage.PartitionNames{}); err == nil {
		t.Fatalf("expected error for slash in queue name")
	}
	if _, err := NewKeyspace(db, "q", storage.PartitionNames{Main: "x", Ephemeral: "x", Metadata: "m"}); err == nil {
		t.Fatalf("expected error for duplicate partition names")
	}
}
