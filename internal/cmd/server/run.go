package serverrun

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cfgpkg "github.com/rzbill/durq/internal/config"
	"github.com/rzbill/durq/internal/runtime"
	grpcserver "github.com/rzbill/durq/internal/server/grpc"
	httpserver "github.com/rzbill/durq/internal/server/http"
	logpkg "github.com/rzbill/durq/pkg/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Config cfgpkg.Config
	// Logger overrides the logger built from Config.Log.
	Logger logpkg.Logger
	// Listener, when set, is served instead of listening on Config.HTTP.Addr.
	Listener net.Listener
	// GRPCListener, when set, serves gRPC on it instead of Config.GRPC.Addr.
	GRPCListener net.Listener
}

// Run opens the runtime, starts orphan recovery and serves HTTP (and gRPC when
// configured) until ctx is cancelled or the process receives SIGINT/SIGTERM.
func Run(ctx context.Context, opts Options) (err error) {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	logger := opts.Logger
	if logger == nil {
		logger, err = logpkg.ApplyConfig(&cfg.Log)
		if err != nil {
			return err
		}
		restore := logpkg.RedirectStdLog(logger)
		defer restore()
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rt, err := runtime.Open(sctx, runtime.Options{Config: cfg, Logger: logger, Registerer: reg})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close runtime: %w", cerr))
		}
	}()

	logger.Info("starting durq server",
		logpkg.Str("backend", cfg.Backend),
		logpkg.Str("queue", cfg.Queue.Name),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("http", cfg.HTTP.Addr),
		logpkg.Str("grpc", cfg.GRPC.Addr),
		logpkg.Bool("recovery", rt.Recovery() != nil),
		logpkg.Str("level", cfg.Log.Level),
		logpkg.Str("format", cfg.Log.Format),
	)
	rt.StartRecovery()

	g, gctx := errgroup.WithContext(sctx)
	hsrv := httpserver.New(rt, logger, reg)
	defer hsrv.Close()
	g.Go(func() error {
		var err error
		if opts.Listener != nil {
			err = hsrv.Serve(gctx, opts.Listener)
		} else {
			err = hsrv.ListenAndServe(gctx, cfg.HTTP.Addr)
		}
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	if opts.GRPCListener != nil || cfg.GRPC.Addr != "" {
		gsrv := grpcserver.New(rt, logger)
		defer gsrv.Close()
		g.Go(func() error {
			var err error
			if opts.GRPCListener != nil {
				err = gsrv.Serve(gctx, opts.GRPCListener)
			} else {
				err = gsrv.ListenAndServe(gctx, cfg.GRPC.Addr)
			}
			if err != nil {
				return fmt.Errorf("grpc: %w", err)
			}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return err
	}
	logger.Info("durq server stopped")
	return nil
}
