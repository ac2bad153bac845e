package queuetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rzbill/durq/pkg/queue"
	"golang.org/x/sync/errgroup"
)

// Options are passed to a Factory for each subtest.
type Options struct {
	EphemeralDisabled bool
	EphemeralMaxSize  int
	Clock             *Clock
}

// QueueOptions converts o into the options shared by every backend.
func (o Options) QueueOptions() queue.Options {
	qo := queue.Options{
		EphemeralDisabled: o.EphemeralDisabled,
		EphemeralMaxSize:  o.EphemeralMaxSize,
	}
	if o.Clock != nil {
		qo.Now = o.Clock.Now
	}
	return qo
}

// Factory opens a fresh, empty queue. Implementations register cleanup with
// t.Cleanup.
type Factory func(t *testing.T, opts Options) queue.Queue

// Reopener returns a function that opens a queue on the same storage every
// time it is called. The caller closes each queue before reopening.
type Reopener func(t *testing.T) func(opts Options) queue.Queue

// Run exercises the queue contract against factory.
func Run(t *testing.T, factory Factory) {
	t.Run("round trip", func(t *testing.T) { testRoundTrip(t, factory) })
	t.Run("take on empty queue", func(t *testing.T) { testTakeEmpty(t, factory) })
	t.Run("finish", func(t *testing.T) { testFinish(t, factory) })
	t.Run("capacity", func(t *testing.T) { testCapacity(t, factory) })
	t.Run("orphan scan", func(t *testing.T) { testOrphanScan(t, factory) })
	t.Run("requeue", func(t *testing.T) { testRequeue(t, factory) })
	t.Run("requeue silent", func(t *testing.T) { testRequeueSilent(t, factory) })
	t.Run("ephemeral disabled", func(t *testing.T) { testEphemeralDisabled(t, factory) })
	t.Run("sequential order", func(t *testing.T) { testSequentialOrder(t, factory) })
	t.Run("concurrent enqueue", func(t *testing.T) { testConcurrentEnqueue(t, factory) })
	t.Run("concurrent take", func(t *testing.T) { testConcurrentTake(t, factory) })
	t.Run("invalid argument", func(t *testing.T) { testInvalidArgument(t, factory) })
}

// RunDurable exercises recovery of a persistent queue after reopening.
func RunDurable(t *testing.T, reopener Reopener) {
	t.Run("reopen keeps pending and in-flight messages", func(t *testing.T) { testReopen(t, reopener) })
	t.Run("reopen resumes after last taken", func(t *testing.T) { testReopenOrder(t, reopener) })
}

func mustEnqueue(t *testing.T, q queue.Queue, payload string) *queue.Message {
	t.Helper()
	m, err := q.Enqueue(context.Background(), queue.NewMessage([]byte(payload)))
	if err != nil {
		t.Fatalf("enqueue %q: %v", payload, err)
	}
	return m
}

func mustTake(t *testing.T, q queue.Queue) *queue.Message {
	t.Helper()
	m, err := q.Take(context.Background())
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if m == nil {
		t.Fatalf("take: queue unexpectedly empty")
	}
	return m
}

func mustSizes(t *testing.T, q queue.Queue, wantQueue, wantEphemeral int) {
	t.Helper()
	ctx := context.Background()
	qs, err := q.QueueSize(ctx)
	if err != nil {
		t.Fatalf("queue size: %v", err)
	}
	es, err := q.EphemeralSize(ctx)
	if err != nil {
		t.Fatalf("ephemeral size: %v", err)
	}
	if qs != wantQueue || es != wantEphemeral {
		t.Fatalf("sizes: queue=%d ephemeral=%d, want %d/%d", qs, es, wantQueue, wantEphemeral)
	}
}

func orphanIDs(t *testing.T, q queue.Queue, threshold time.Duration) []string {
	t.Helper()
	msgs, err := q.OrphanScan(context.Background(), threshold)
	if err != nil {
		t.Fatalf("orphan scan: %v", err)
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids
}

func sorted(ids ...string) []string {
	out := append([]string{}, ids...)
	sort.Strings(out)
	return out
}

func testRoundTrip(t *testing.T, factory Factory) {
	clock := NewClock()
	q := factory(t, Options{Clock: clock})

	in := queue.NewMessage([]byte("hello\x00world"))
	in.ID = "caller-chosen"
	in.NumRequeues = 7

	stored, err := q.Enqueue(context.Background(), in)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if stored.ID == "" || stored.ID == in.ID {
		t.Fatalf("expected a fresh id, got %q", stored.ID)
	}
	mustSizes(t, q, 1, 0)

	got := mustTake(t, q)
	want := &queue.Message{
		ID:                stored.ID,
		OriginalTimestamp: clock.Now(),
		Timestamp:         clock.Now(),
		NumRequeues:       0,
		Payload:           []byte("hello\x00world"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("taken message mismatch (-want +got):\n%s", diff)
	}
	mustSizes(t, q, 0, 1)
}

func testTakeEmpty(t *testing.T, factory Factory) {
	q := factory(t, Options{})
	m, err := q.Take(context.Background())
	if err != nil || m != nil {
		t.Fatalf("take on empty: %v, %v", m, err)
	}

	mustEnqueue(t, q, "only")
	mustTake(t, q)
	m, err = q.Take(context.Background())
	if err != nil || m != nil {
		t.Fatalf("take after drain: %v, %v", m, err)
	}
}

func testFinish(t *testing.T, factory Factory) {
	ctx := context.Background()
	q := factory(t, Options{})
	mustEnqueue(t, q, "a")
	m := mustTake(t, q)

	if ids := orphanIDs(t, q, 0); !cmp.Equal(ids, []string{m.ID}) {
		t.Fatalf("in-flight ids=%v want [%s]", ids, m.ID)
	}
	mustSizes(t, q, 0, 1)

	if err := q.Finish(ctx, m); err != nil {
		t.Fatalf("finish: %v", err)
	}
	mustSizes(t, q, 0, 0)
	if ids := orphanIDs(t, q, 0); len(ids) != 0 {
		t.Fatalf("finished message still in flight: %v", ids)
	}

	if err := q.Finish(ctx, m); err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if err := q.Finish(ctx, &queue.Message{ID: "never-taken"}); err != nil {
		t.Fatalf("finish unknown: %v", err)
	}
}

func testCapacity(t *testing.T, factory Factory) {
	const capacity = 3
	ctx := context.Background()
	q := factory(t, Options{EphemeralMaxSize: capacity})
	for i := 0; i < capacity+2; i++ {
		mustEnqueue(t, q, fmt.Sprintf("m%d", i))
	}

	var taken []*queue.Message
	for i := 0; i < capacity; i++ {
		taken = append(taken, mustTake(t, q))
	}

	m, err := q.Take(ctx)
	if !errors.Is(err, queue.ErrCapacityExceeded) {
		t.Fatalf("take beyond capacity: msg=%v err=%v", m, err)
	}
	if m != nil {
		t.Fatalf("take beyond capacity returned a message")
	}
	mustSizes(t, q, 2, capacity)

	if err := q.Finish(ctx, taken[0]); err != nil {
		t.Fatalf("finish: %v", err)
	}
	mustTake(t, q)
	mustSizes(t, q, 1, capacity)
}

func testOrphanScan(t *testing.T, factory Factory) {
	clock := NewClock()
	q := factory(t, Options{Clock: clock})

	old := mustEnqueue(t, q, "old")
	clock.Advance(10 * time.Second)
	fresh := mustEnqueue(t, q, "fresh")

	mustTake(t, q)
	mustTake(t, q)

	if got := orphanIDs(t, q, 0); !cmp.Equal(got, sorted(old.ID, fresh.ID)) {
		t.Fatalf("orphanScan(0)=%v", got)
	}
	if got := orphanIDs(t, q, 10*time.Second); !cmp.Equal(got, []string{old.ID}) {
		t.Fatalf("orphanScan(10s)=%v want [%s]", got, old.ID)
	}
	if got := orphanIDs(t, q, 11*time.Second); len(got) != 0 {
		t.Fatalf("orphanScan(11s)=%v want none", got)
	}

	// scanning is read-only
	mustSizes(t, q, 0, 2)
}

func testRequeue(t *testing.T, factory Factory) {
	ctx := context.Background()
	clock := NewClock()
	q := factory(t, Options{Clock: clock})
	orig := mustEnqueue(t, q, "retry-me")
	m := mustTake(t, q)

	clock.Advance(5 * time.Second)
	if err := q.Requeue(ctx, m); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	mustSizes(t, q, 1, 0)

	again := mustTake(t, q)
	if again.ID != orig.ID {
		t.Fatalf("requeue changed id: %q -> %q", orig.ID, again.ID)
	}
	if again.NumRequeues != 1 {
		t.Fatalf("numRequeues=%d want 1", again.NumRequeues)
	}
	if !again.Timestamp.Equal(clock.Now()) {
		t.Fatalf("timestamp=%v want %v", again.Timestamp, clock.Now())
	}
	if !again.OriginalTimestamp.Equal(orig.OriginalTimestamp) {
		t.Fatalf("original timestamp changed: %v", again.OriginalTimestamp)
	}
	if !bytes.Equal(again.Payload, []byte("retry-me")) {
		t.Fatalf("payload=%q", again.Payload)
	}
	mustSizes(t, q, 0, 1)

	// the caller's copy is not mutated
	if m.NumRequeues != 0 {
		t.Fatalf("requeue mutated caller message")
	}
}

func testRequeueSilent(t *testing.T, factory Factory) {
	ctx := context.Background()
	clock := NewClock()
	q := factory(t, Options{Clock: clock})
	orig := mustEnqueue(t, q, "orphan")
	m := mustTake(t, q)

	clock.Advance(time.Minute)
	if err := q.RequeueSilent(ctx, m); err != nil {
		t.Fatalf("requeue silent: %v", err)
	}
	mustSizes(t, q, 1, 0)

	again := mustTake(t, q)
	if again.ID != orig.ID || again.NumRequeues != 0 {
		t.Fatalf("silent requeue changed bookkeeping: %+v", again)
	}
	if !again.Timestamp.Equal(orig.Timestamp) {
		t.Fatalf("timestamp=%v want %v", again.Timestamp, orig.Timestamp)
	}
}

func testEphemeralDisabled(t *testing.T, factory Factory) {
	ctx := context.Background()
	q := factory(t, Options{EphemeralDisabled: true, EphemeralMaxSize: 1})
	mustEnqueue(t, q, "a")
	mustEnqueue(t, q, "b")

	m := mustTake(t, q)
	mustTake(t, q) // capacity does not apply without ephemeral tracking
	mustSizes(t, q, 0, 0)

	if err := q.Finish(ctx, m); err != nil {
		t.Fatalf("finish: %v", err)
	}
	orphans, err := q.OrphanScan(ctx, 0)
	if err != nil || len(orphans) != 0 {
		t.Fatalf("orphan scan: %v %v", orphans, err)
	}
	if err := q.Requeue(ctx, m); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	mustSizes(t, q, 1, 0)
}

func testSequentialOrder(t *testing.T, factory Factory) {
	clock := NewClock()
	q := factory(t, Options{Clock: clock})
	const n = 10
	for i := 0; i < n; i++ {
		mustEnqueue(t, q, fmt.Sprintf("%02d", i))
		clock.Advance(time.Millisecond)
	}
	for i := 0; i < n; i++ {
		m := mustTake(t, q)
		if want := fmt.Sprintf("%02d", i); string(m.Payload) != want {
			t.Fatalf("take #%d returned %q, want %q", i, m.Payload, want)
		}
	}
}

func testConcurrentEnqueue(t *testing.T, factory Factory) {
	const producers, perProducer = 8, 50
	ctx := context.Background()
	q := factory(t, Options{})

	var mu sync.Mutex
	ids := map[string]bool{}
	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < producers; p++ {
		p := p
		g.Go(func() error {
			for i := 0; i < perProducer; i++ {
				m, err := q.Enqueue(gctx, queue.NewMessage([]byte(fmt.Sprintf("%d-%d", p, i))))
				if err != nil {
					return err
				}
				mu.Lock()
				ids[m.ID] = true
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(ids) != producers*perProducer {
		t.Fatalf("duplicate ids: %d unique of %d", len(ids), producers*perProducer)
	}
	mustSizes(t, q, producers*perProducer, 0)

	seen := map[string]bool{}
	for {
		m, err := q.Take(ctx)
		if err != nil {
			t.Fatalf("take: %v", err)
		}
		if m == nil {
			break
		}
		if seen[m.ID] || !ids[m.ID] {
			t.Fatalf("unexpected or duplicate delivery of %q", m.ID)
		}
		seen[m.ID] = true
	}
	if len(seen) != producers*perProducer {
		t.Fatalf("took %d messages, want %d", len(seen), producers*perProducer)
	}
}

// testConcurrentTake drains a capacity-bound queue from several consumers.
// No message may be delivered twice and the ephemeral size may never exceed
// the capacity.
func testConcurrentTake(t *testing.T, factory Factory) {
	const messages, consumers, capacity = 60, 6, 4
	ctx := context.Background()
	q := factory(t, Options{EphemeralMaxSize: capacity})
	for i := 0; i < messages; i++ {
		mustEnqueue(t, q, fmt.Sprintf("m%d", i))
	}

	var mu sync.Mutex
	seen := map[string]bool{}
	g, gctx := errgroup.WithContext(ctx)
	for c := 0; c < consumers; c++ {
		g.Go(func() error {
			for {
				m, err := q.Take(gctx)
				if errors.Is(err, queue.ErrCapacityExceeded) {
					time.Sleep(time.Millisecond)
					continue
				}
				if err != nil {
					return err
				}
				if m == nil {
					return nil
				}
				mu.Lock()
				dup := seen[m.ID]
				seen[m.ID] = true
				mu.Unlock()
				if dup {
					return fmt.Errorf("message %q delivered twice", m.ID)
				}
				n, err := q.EphemeralSize(gctx)
				if err != nil {
					return err
				}
				if n > capacity {
					return fmt.Errorf("ephemeral size %d exceeds capacity %d", n, capacity)
				}
				if err := q.Finish(gctx, m); err != nil {
					return err
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(seen) != messages {
		t.Fatalf("took %d messages, want %d", len(seen), messages)
	}
	mustSizes(t, q, 0, 0)
}

func testInvalidArgument(t *testing.T, factory Factory) {
	ctx := context.Background()
	q := factory(t, Options{})
	if _, err := q.Enqueue(ctx, nil); !errors.Is(err, queue.ErrInvalidArgument) {
		t.Fatalf("enqueue nil: %v", err)
	}
	if err := q.Requeue(ctx, nil); !errors.Is(err, queue.ErrInvalidArgument) {
		t.Fatalf("requeue nil: %v", err)
	}
	if err := q.RequeueSilent(ctx, nil); !errors.Is(err, queue.ErrInvalidArgument) {
		t.Fatalf("requeue silent nil: %v", err)
	}
	if err := q.Finish(ctx, nil); !errors.Is(err, queue.ErrInvalidArgument) {
		t.Fatalf("finish nil: %v", err)
	}
}

func testReopen(t *testing.T, reopener Reopener) {
	open := reopener(t)
	q := open(Options{})
	first := mustEnqueue(t, q, "first")
	second := mustEnqueue(t, q, "second")
	third := mustEnqueue(t, q, "third")

	taken := mustTake(t, q)
	if taken.ID != first.ID {
		t.Fatalf("took %q want %q", taken.ID, first.ID)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	q = open(Options{})
	defer q.Close()
	mustSizes(t, q, 2, 1)

	next := mustTake(t, q)
	if next.ID != second.ID {
		t.Fatalf("after reopen took %q want %q", next.ID, second.ID)
	}
	if ids := orphanIDs(t, q, 0); !cmp.Equal(ids, sorted(first.ID, second.ID)) {
		t.Fatalf("in-flight after reopen=%v", ids)
	}
	if last := mustTake(t, q); last.ID != third.ID {
		t.Fatalf("took %q want %q", last.ID, third.ID)
	}
}

func testReopenOrder(t *testing.T, reopener Reopener) {
	ctx := context.Background()
	open := reopener(t)
	q := open(Options{})
	mustEnqueue(t, q, "a")
	mustTake(t, q)
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// messages enqueued after a restart are still delivered
	q = open(Options{})
	defer q.Close()
	late := mustEnqueue(t, q, "late")
	got := mustTake(t, q)
	if got.ID != late.ID {
		t.Fatalf("took %q want %q", got.ID, late.ID)
	}
	if m, err := q.Take(ctx); err != nil || m != nil {
		t.Fatalf("expected empty queue, got %v %v", m, err)
	}
}
