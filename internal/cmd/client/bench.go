package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	cfgpkg "github.com/rzbill/durq/internal/config"
	"github.com/rzbill/durq/internal/runtime"
	"github.com/rzbill/durq/pkg/queue"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// BenchOptions configures a local throughput run.
type BenchOptions struct {
	Config      cfgpkg.Config
	Producers   int
	Messages    int // per producer
	Consumers   int
	PayloadSize int
}

// BenchResult summarises a run.
type BenchResult struct {
	Enqueued      int
	Taken         int
	EnqueueTook   time.Duration
	DrainTook     time.Duration
	QueueSize     int
	EphemeralSize int
}

// Bench opens the configured backend in-process, enqueues Producers x
// Messages messages concurrently, then drains them with Consumers workers
// that take and finish.
func Bench(ctx context.Context, opts BenchOptions) (BenchResult, error) {
	var res BenchResult
	if opts.Producers <= 0 || opts.Messages <= 0 || opts.Consumers <= 0 {
		return res, fmt.Errorf("producers, messages and consumers must be positive")
	}
	opts.Config.Recovery.Enabled = false
	rt, err := runtime.Open(ctx, runtime.Options{Config: opts.Config})
	if err != nil {
		return res, err
	}
	defer rt.Close()
	q := rt.Queue()

	payload := make([]byte, opts.PayloadSize)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	var enqueued atomic.Int64
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < opts.Producers; p++ {
		g.Go(func() error {
			for i := 0; i < opts.Messages; i++ {
				if _, err := q.Enqueue(gctx, queue.NewMessage(payload)); err != nil {
					return err
				}
				enqueued.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, fmt.Errorf("enqueue: %w", err)
	}
	res.Enqueued = int(enqueued.Load())
	res.EnqueueTook = time.Since(start)

	var taken atomic.Int64
	start = time.Now()
	g, gctx = errgroup.WithContext(ctx)
	for c := 0; c < opts.Consumers; c++ {
		g.Go(func() error {
			for {
				m, err := q.Take(gctx)
				if err != nil {
					return err
				}
				if m == nil {
					return nil
				}
				if err := q.Finish(gctx, m); err != nil {
					return err
				}
				taken.Add(1)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return res, fmt.Errorf("drain: %w", err)
	}
	res.Taken = int(taken.Load())
	res.DrainTook = time.Since(start)

	if res.QueueSize, err = q.QueueSize(ctx); err != nil {
		return res, err
	}
	if res.EphemeralSize, err = q.EphemeralSize(ctx); err != nil {
		return res, err
	}
	return res, nil
}

func rate(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

func (r BenchResult) print(w io.Writer) {
	_, _ = fmt.Fprintf(w, "enqueued:       %d in %s (%.0f msg/s)\n", r.Enqueued, r.EnqueueTook.Round(time.Millisecond), rate(r.Enqueued, r.EnqueueTook))
	_, _ = fmt.Fprintf(w, "taken:          %d in %s (%.0f msg/s)\n", r.Taken, r.DrainTook.Round(time.Millisecond), rate(r.Taken, r.DrainTook))
	_, _ = fmt.Fprintf(w, "queue_size:     %d\n", r.QueueSize)
	_, _ = fmt.Fprintf(w, "ephemeral_size: %d\n", r.EphemeralSize)
}

// NewBenchCommand constructs the `bench` command.
func NewBenchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure local enqueue and drain throughput",
		Long: `Runs concurrent producers against an in-process queue, then drains it
with concurrent consumers. Without --data-dir a temporary directory is used
and removed afterwards.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			backend, _ := cmd.Flags().GetString("backend")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			producers, _ := cmd.Flags().GetInt("producers")
			messages, _ := cmd.Flags().GetInt("messages")
			consumers, _ := cmd.Flags().GetInt("consumers")
			size, _ := cmd.Flags().GetInt("payload-size")
			fsync, _ := cmd.Flags().GetString("fsync")

			cfg := cfgpkg.Default()
			if configPath != "" {
				loaded, err := cfgpkg.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("backend") || configPath == "" {
				cfg.Backend = backend
			}
			if cmd.Flags().Changed("fsync") {
				cfg.Storage.Fsync = fsync
			}
			if dataDir == "" {
				tmp, err := os.MkdirTemp("", "durq-bench-")
				if err != nil {
					return err
				}
				defer os.RemoveAll(tmp)
				dataDir = tmp
			}
			cfg.DataDir = dataDir
			if cfg.Backend == cfgpkg.BackendSQL && cfg.SQL.DSN == "" {
				cfg.SQL.DSN = filepath.Join(dataDir, "bench.sqlite")
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "backend=%s producers=%d messages=%d consumers=%d payload=%dB\n",
				cfg.Backend, producers, messages, consumers, size)
			res, err := Bench(cmd.Context(), BenchOptions{
				Config:      cfg,
				Producers:   producers,
				Messages:    messages,
				Consumers:   consumers,
				PayloadSize: size,
			})
			if err != nil {
				return err
			}
			res.print(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().String("config", "", "Config file (JSON or YAML)")
	cmd.Flags().String("backend", cfgpkg.BackendPebble, "Backend: pebble|bolt|memory|sql")
	cmd.Flags().String("data-dir", "", "Data directory (default: temporary)")
	cmd.Flags().String("fsync", "", "Fsync mode for pebble: always|interval|never")
	cmd.Flags().Int("producers", 4, "Concurrent producers")
	cmd.Flags().Int("messages", 1000, "Messages per producer")
	cmd.Flags().Int("consumers", 4, "Concurrent consumers")
	cmd.Flags().Int("payload-size", 128, "Payload size in bytes")
	return cmd
}
