package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rzbill/durq/internal/adapters/memqueue"
	"github.com/rzbill/durq/internal/adapters/redisqueue"
	"github.com/rzbill/durq/internal/adapters/sqlqueue"
	cfgpkg "github.com/rzbill/durq/internal/config"
	"github.com/rzbill/durq/internal/metrics"
	"github.com/rzbill/durq/internal/recovery"
	"github.com/rzbill/durq/internal/storage"
	boltstore "github.com/rzbill/durq/internal/storage/bolt"
	pebblestore "github.com/rzbill/durq/internal/storage/pebble"
	"github.com/rzbill/durq/internal/workqueue"
	"github.com/rzbill/durq/pkg/log"
	"github.com/rzbill/durq/pkg/queue"
	"go.uber.org/multierr"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	// Logger defaults to a no-op logger.
	Logger log.Logger
	// Registerer receives the queue's metrics. Nil disables metrics.
	Registerer prometheus.Registerer
}

// Runtime wires the configured backend, metrics and orphan recovery for a
// single queue.
type Runtime struct {
	config   cfgpkg.Config
	logger   log.Logger
	raw      queue.Queue
	queue    queue.Queue
	metrics  *metrics.Metrics
	recovery *recovery.Driver
}

// Open validates the config and opens the backend it names. Recovery is
// prepared but not started; call StartRecovery.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("runtime: invalid config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	rt := &Runtime{config: cfg, logger: logger.WithComponent("runtime")}

	if opts.Registerer != nil {
		m, err := metrics.New(opts.Registerer, cfg.Queue.Name)
		if err != nil {
			return nil, fmt.Errorf("runtime: register metrics: %w", err)
		}
		rt.metrics = m
	}

	raw, err := openBackend(ctx, cfg, logger, rt.metrics)
	if err != nil {
		return nil, err
	}
	rt.raw, rt.queue = raw, raw
	if rt.metrics != nil {
		rt.queue = rt.metrics.Instrument(raw)
		if err := rt.metrics.RegisterSizes(raw); err != nil {
			return nil, multierr.Append(fmt.Errorf("runtime: register size gauges: %w", err), raw.Close())
		}
	}

	if cfg.Recovery.Enabled && !cfg.Queue.EphemeralDisabled {
		rc := recovery.Config{
			Interval:    cfg.Recovery.Interval(),
			Threshold:   cfg.Recovery.Threshold(),
			MaxPerSweep: cfg.Recovery.MaxPerSweep,
		}
		if rt.metrics != nil {
			rc.OnSweep = rt.metrics.ObserveSweep
		}
		rt.recovery = recovery.NewDriver(rt.queue, rc, logger)
	}

	rt.logger.Info("queue opened",
		log.Str("backend", cfg.Backend),
		log.Str("queue", cfg.Queue.Name),
		log.Bool("ephemeral", !cfg.Queue.EphemeralDisabled),
		log.Int("ephemeral_max", cfg.Queue.EphemeralMaxSize))
	return rt, nil
}

func queueOptions(cfg cfgpkg.Config) queue.Options {
	return queue.Options{
		EphemeralDisabled: cfg.Queue.EphemeralDisabled,
		EphemeralMaxSize:  cfg.Queue.EphemeralMaxSize,
	}
}

func openBackend(ctx context.Context, cfg cfgpkg.Config, logger log.Logger, m *metrics.Metrics) (queue.Queue, error) {
	qlog := logger.WithComponent(cfg.Backend)
	switch cfg.Backend {
	case cfgpkg.BackendPebble:
		fsync, _ := pebblestore.ParseFsyncMode(cfg.Storage.Fsync)
		po := pebblestore.Options{
			DataDir:       filepath.Join(cfg.DataDir, "pebble"),
			Fsync:         fsync,
			FsyncInterval: time.Duration(cfg.Storage.FsyncIntervalMs) * time.Millisecond,
			Logger:        qlog,
		}
		if m != nil {
			po.Metrics = m.StorageHook()
		}
		ks, err := pebblestore.OpenKeyspace(po, cfg.Queue.Name, cfg.Queue.Partitions)
		if err != nil {
			return nil, queue.StorageError("open pebble", err)
		}
		return openCore(ks, cfg, qlog)

	case cfgpkg.BackendBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, queue.StorageError("create data dir", err)
		}
		s, err := boltstore.Open(boltstore.Options{
			Path:       filepath.Join(cfg.DataDir, "durq.db"),
			Queue:      cfg.Queue.Name,
			Partitions: cfg.Queue.Partitions,
			NoSync:     cfg.Storage.Fsync == "never",
		})
		if err != nil {
			return nil, queue.StorageError("open bolt", err)
		}
		return openCore(s, cfg, qlog)

	case cfgpkg.BackendMemory:
		return memqueue.New(memqueue.Options{Options: queueOptions(cfg), Boundary: cfg.Queue.Boundary}), nil

	case cfgpkg.BackendSQL:
		q, err := sqlqueue.Open(ctx, sqlqueue.Options{
			Options: queueOptions(cfg),
			Driver:  cfg.SQL.Driver,
			DSN:     cfg.SQL.DSN,
			Table:   cfg.SQL.Table,
			FIFO:    cfg.Queue.FIFO,
			Logger:  qlog,
		})
		if err != nil {
			return nil, err
		}
		return q, nil

	case cfgpkg.BackendRedis:
		q, err := redisqueue.New(redisqueue.Options{
			Options:  queueOptions(cfg),
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			Name:     cfg.Queue.Name,
			Logger:   qlog,
		})
		if err != nil {
			return nil, err
		}
		if err := q.Ping(ctx); err != nil {
			return nil, multierr.Append(err, q.Close())
		}
		return q, nil
	}
	return nil, fmt.Errorf("runtime: unknown backend %q", cfg.Backend)
}

func openCore(s storage.Store, cfg cfgpkg.Config, logger log.Logger) (queue.Queue, error) {
	q, err := workqueue.Open(s, workqueue.Options{Options: queueOptions(cfg), Logger: logger})
	if err != nil {
		return nil, multierr.Append(err, s.Close())
	}
	return q, nil
}

// Queue returns the (instrumented) queue.
func (r *Runtime) Queue() queue.Queue { return r.queue }

// Metrics returns the queue metrics, or nil when disabled.
func (r *Runtime) Metrics() *metrics.Metrics { return r.metrics }

// Recovery returns the orphan recovery driver, or nil when disabled.
func (r *Runtime) Recovery() *recovery.Driver { return r.recovery }

// StartRecovery starts the orphan recovery loop if it is enabled.
func (r *Runtime) StartRecovery() {
	if r.recovery != nil {
		r.recovery.Start()
	}
}

// CheckHealth pings the backend when it supports it.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if p, ok := r.raw.(queue.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close stops recovery and closes the queue.
func (r *Runtime) Close() error {
	if r.recovery != nil {
		r.recovery.Stop()
	}
	return r.raw.Close()
}

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
