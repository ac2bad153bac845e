// Package recovery returns orphaned in-flight messages to their queue.
//
// A message is orphaned when it was taken but neither finished nor requeued
// within a threshold, typically because its consumer crashed. The Driver
// periodically lists orphans with OrphanScan and resubmits each one with
// RequeueSilent, so its requeue counter and timestamp are preserved.
package recovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
	"github.com/rzbill/durq/pkg/log"
	"github.com/rzbill/durq/pkg/queue"
)

// DefaultBackoff paces retries after a failed sweep.
var DefaultBackoff backoff.Strategy = backoff.WithTransforms(
	backoff.Exponential(10*time.Millisecond),
	linger.FullJitter,
	linger.Limiter(0, 5*time.Second),
)

// Config controls the sweep loop.
type Config struct {
	// Interval between successful sweeps. Defaults to 10s.
	Interval time.Duration
	// Threshold is the in-flight age that makes a message an orphan.
	// Defaults to 60s.
	Threshold time.Duration
	// MaxPerSweep caps how many orphans one sweep resubmits. Zero means all.
	MaxPerSweep int
	// Backoff paces retries after a failed sweep. Defaults to DefaultBackoff.
	Backoff backoff.Strategy
	// OnSweep, if set, is called after every sweep.
	OnSweep func(requeued int, err error)
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.Threshold <= 0 {
		c.Threshold = 60 * time.Second
	}
	if c.MaxPerSweep < 0 {
		c.MaxPerSweep = 0
	}
	if c.Backoff == nil {
		c.Backoff = DefaultBackoff
	}
	return c
}

// Driver runs orphan sweeps against one queue.
type Driver struct {
	q      queue.Queue
	cfg    Config
	logger log.Logger

	// sweepMu keeps sweeps from overlapping, including manual ones.
	sweepMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDriver returns a stopped driver.
func NewDriver(q queue.Queue, cfg Config, logger log.Logger) *Driver {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Driver{
		q:      q,
		cfg:    cfg.withDefaults(),
		logger: logger.WithComponent("recovery"),
	}
}

// Config returns the effective configuration.
func (d *Driver) Config() Config { return d.cfg }

// Sweep requeues the current orphans once and returns how many were
// resubmitted. On error the orphans not yet resubmitted are left in flight
// for the next sweep.
func (d *Driver) Sweep(ctx context.Context) (n int, err error) {
	d.sweepMu.Lock()
	defer d.sweepMu.Unlock()
	defer func() {
		if d.cfg.OnSweep != nil {
			d.cfg.OnSweep(n, err)
		}
	}()

	orphans, err := d.q.OrphanScan(ctx, d.cfg.Threshold)
	if err != nil {
		return 0, err
	}
	if d.cfg.MaxPerSweep > 0 && len(orphans) > d.cfg.MaxPerSweep {
		orphans = orphans[:d.cfg.MaxPerSweep]
	}
	for _, m := range orphans {
		if err := d.q.RequeueSilent(ctx, m); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		d.logger.Info("requeued orphaned messages", log.Int("count", n), log.Dur("threshold", d.cfg.Threshold))
	}
	return n, nil
}

// Run sweeps until ctx is canceled or the queue is closed. Failed sweeps
// are retried with backoff; successful ones are spaced by Interval.
func (d *Driver) Run(ctx context.Context) error {
	counter := backoff.Counter{Strategy: d.cfg.Backoff}
	for {
		_, err := d.Sweep(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, queue.ErrClosed) {
				d.logger.Debug("queue closed, stopping orphan recovery")
				return nil
			}
			d.logger.Warn("orphan sweep failed", log.Err(err))
			if err := counter.Sleep(ctx, err); err != nil {
				return err
			}
			continue
		}
		counter.Reset()
		if err := linger.Sleep(ctx, d.cfg.Interval); err != nil {
			return err
		}
	}
}

// Start runs the loop in a goroutine. Calling Start on a running driver has
// no effect.
func (d *Driver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	d.cancel, d.done = cancel, done

	d.logger.Info("orphan recovery started",
		log.Dur("interval", d.cfg.Interval),
		log.Dur("threshold", d.cfg.Threshold),
		log.Int("max_per_sweep", d.cfg.MaxPerSweep))
	go func() {
		defer close(done)
		if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("orphan recovery stopped", log.Err(err))
		}
	}()
}

// Stop cancels the loop and waits for the current sweep to finish.
func (d *Driver) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	d.logger.Info("orphan recovery stopped")
}
