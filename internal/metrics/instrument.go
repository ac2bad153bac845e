package metrics

import (
	"context"
	"time"

	"github.com/rzbill/durq/pkg/queue"
)

// Instrument wraps q so that every operation is counted and timed.
func (m *Metrics) Instrument(q queue.Queue) queue.Queue {
	return &instrumented{Queue: q, m: m}
}

type instrumented struct {
	queue.Queue
	m *Metrics
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	i.m.Operations.WithLabelValues(i.m.queue, op, Result(err)).Inc()
	i.m.OperationSeconds.WithLabelValues(i.m.queue, op).Observe(time.Since(start).Seconds())
}

func (i *instrumented) Enqueue(ctx context.Context, msg *queue.Message) (*queue.Message, error) {
	start := time.Now()
	out, err := i.Queue.Enqueue(ctx, msg)
	i.observe("enqueue", start, err)
	return out, err
}

func (i *instrumented) Take(ctx context.Context) (*queue.Message, error) {
	start := time.Now()
	m, err := i.Queue.Take(ctx)
	op := "take"
	if err == nil && m == nil {
		op = "take_empty"
	}
	i.observe(op, start, err)
	return m, err
}

func (i *instrumented) Requeue(ctx context.Context, msg *queue.Message) error {
	start := time.Now()
	err := i.Queue.Requeue(ctx, msg)
	i.observe("requeue", start, err)
	return err
}

func (i *instrumented) RequeueSilent(ctx context.Context, msg *queue.Message) error {
	start := time.Now()
	err := i.Queue.RequeueSilent(ctx, msg)
	i.observe("requeue_silent", start, err)
	return err
}

func (i *instrumented) Finish(ctx context.Context, msg *queue.Message) error {
	start := time.Now()
	err := i.Queue.Finish(ctx, msg)
	i.observe("finish", start, err)
	return err
}

func (i *instrumented) OrphanScan(ctx context.Context, threshold time.Duration) ([]*queue.Message, error) {
	start := time.Now()
	out, err := i.Queue.OrphanScan(ctx, threshold)
	i.observe("orphan_scan", start, err)
	return out, err
}

// Ping forwards to the wrapped queue when it supports health checks.
func (i *instrumented) Ping(ctx context.Context) error {
	if p, ok := i.Queue.(queue.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Unwrap returns the wrapped queue.
func (i *instrumented) Unwrap() queue.Queue { return i.Queue }
