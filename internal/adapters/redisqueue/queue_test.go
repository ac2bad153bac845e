package redisqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rzbill/durq/pkg/queue"
	"github.com/sony/gobreaker"
)

func TestKeys(t *testing.T) {
	stream, eph, cursor := Keys("durq", "jobs")
	if stream != "durq:{jobs}:log" || eph != "durq:{jobs}:ephemeral" || cursor != "durq:{jobs}:cursor" {
		t.Fatalf("keys: %s %s %s", stream, eph, cursor)
	}
}

func TestNewValidation(t *testing.T) {
	for _, opts := range []Options{
		{Addr: "localhost:6379"},
		{Addr: "localhost:6379", Name: "a{b}"},
		{Name: "jobs"},
	} {
		if _, err := New(opts); !errors.Is(err, queue.ErrInvalidArgument) {
			t.Fatalf("New(%+v) err=%v", opts, err)
		}
	}
}

func TestBreakerOpensWhenServerUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	q, err := New(Options{Client: client, Name: "jobs", Breaker: gobreaker.Settings{Timeout: time.Minute}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := q.QueueSize(ctx); !errors.Is(err, queue.ErrStorageUnavailable) {
			t.Fatalf("attempt %d: err=%v", i, err)
		}
	}
	_, err = q.Take(ctx)
	if !errors.Is(err, queue.ErrStorageUnavailable) || !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("take with open breaker: %v", err)
	}
	if q.BreakerState() != gobreaker.StateOpen {
		t.Fatalf("breaker state=%v", q.BreakerState())
	}
}

func TestLocalValidationSkipsServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer client.Close()
	q, err := New(Options{Client: client, Name: "jobs", Options: queue.Options{EphemeralDisabled: true}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, nil); !errors.Is(err, queue.ErrInvalidArgument) {
		t.Fatalf("enqueue nil: %v", err)
	}
	if err := q.Finish(ctx, &queue.Message{ID: "x"}); err != nil {
		t.Fatalf("finish without ephemeral: %v", err)
	}
	if n, err := q.EphemeralSize(ctx); err != nil || n != 0 {
		t.Fatalf("ephemeral size: %d %v", n, err)
	}
}

func TestCollectOrphansSkipsRepeatedFields(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer client.Close()
	q, err := New(Options{Client: client, Name: "jobs"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Now()
	old := queue.Truncate(now.Add(-time.Hour))
	encode := func(id string, ts time.Time) string {
		b, err := queue.Encode(q.opts.Codec, &queue.Message{ID: id, OriginalTimestamp: ts, Timestamp: ts, Payload: []byte(id)})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		return string(b)
	}

	seen := make(map[string]struct{})
	page1 := []string{"a", encode("a", old), "b", encode("b", queue.Truncate(now))}
	page2 := []string{"a", encode("a", old), "c", encode("c", old)}

	out, err := q.collectOrphans(nil, seen, page1, now, time.Minute)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	out, err = q.collectOrphans(out, seen, page2, now, time.Minute)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	var ids []string
	for _, m := range out {
		ids = append(ids, m.ID)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Fatalf("orphans=%v, want [a c]", ids)
	}
}
