package id

import (
	"testing"
	"time"
)

func restoreClock(t *testing.T) {
	t.Helper()
	t.Cleanup(func() { NowMs = func() int64 { return time.Now().UnixMilli() } })
}

func TestOrderingMonotonic(t *testing.T) {
	restoreClock(t)
	g := NewGenerator()
	NowMs = func() int64 { return 1000 }

	a := g.Next()
	b := g.Next()
	if a.Compare(b) >= 0 {
		t.Fatalf("expected a<b")
	}
	if a.Millis() != 1000 || b.Sequence() != a.Sequence()+1 {
		t.Fatalf("unexpected layout: %s %s", a, b)
	}
}

func TestClockRegressionGuard(t *testing.T) {
	restoreClock(t)
	g := NewGenerator()
	now := int64(1000)
	NowMs = func() int64 { return now }

	a := g.Next()
	now = 900
	b := g.Next()
	if a.Compare(b) >= 0 {
		t.Fatalf("expected b>a despite clock regression")
	}
}

func TestObserveFloorsGenerator(t *testing.T) {
	restoreClock(t)
	NowMs = func() int64 { return 500 }

	persisted := makeID(2000, 7)
	g := NewGenerator()
	g.Observe(persisted)

	next := g.Next()
	if persisted.Compare(next) >= 0 {
		t.Fatalf("expected %s to sort after %s", next, persisted)
	}

	// observing an older key must not move the floor backwards
	g.Observe(makeID(10, 0))
	if after := g.Next(); next.Compare(after) >= 0 {
		t.Fatalf("floor moved backwards")
	}
}

func TestParseRoundTrip(t *testing.T) {
	want := makeID(123456789, 42)
	got, err := Parse(want.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
	if _, err := FromBytes([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for short input")
	}
	if _, err := Parse("zz"); err == nil {
		t.Fatalf("expected error for bad hex")
	}
}

func TestSequenceOverflowWaitsNextMs(t *testing.T) {
	restoreClock(t)
	g := NewGenerator()
	NowMs = func() int64 { return 2000 }

	g.lastMs = 2000
	g.sequence = ^uint64(0) - 1

	_ = g.Next()

	done := make(chan ID)
	go func() { done <- g.Next() }()

	time.AfterFunc(10*time.Millisecond, func() { NowMs = func() int64 { return 2001 } })

	select {
	case got := <-done:
		if got.Millis() != 2001 || got.Sequence() != 0 {
			t.Fatalf("expected reset sequence at next ms, got %s", got)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for overflow handling")
	}
}
