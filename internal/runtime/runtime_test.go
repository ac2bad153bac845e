package runtime

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	cfgpkg "github.com/rzbill/durq/internal/config"
	"github.com/rzbill/durq/pkg/queue"
)

func testConfig(t *testing.T, backend string) cfgpkg.Config {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Backend = backend
	cfg.DataDir = t.TempDir()
	cfg.Queue.Name = "jobs"
	cfg.SQL.DSN = filepath.Join(cfg.DataDir, "queue.sqlite")
	return cfg
}

func TestOpenCloseHealth(t *testing.T) {
	for _, backend := range []string{cfgpkg.BackendPebble, cfgpkg.BackendBolt, cfgpkg.BackendMemory, cfgpkg.BackendSQL} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			rt, err := Open(ctx, Options{Config: testConfig(t, backend)})
			if err != nil {
				t.Fatalf("open runtime: %v", err)
			}
			defer rt.Close()
			if err := rt.CheckHealth(ctx); err != nil {
				t.Fatalf("health: %v", err)
			}
			if _, err := rt.Queue().Enqueue(ctx, queue.NewMessage([]byte("hello"))); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			m, err := rt.Queue().Take(ctx)
			if err != nil || m == nil || string(m.Payload) != "hello" {
				t.Fatalf("take: %+v %v", m, err)
			}
		})
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "etcd")
	if _, err := Open(context.Background(), Options{Config: cfg}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestMetricsWired(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	rt, err := Open(ctx, Options{Config: testConfig(t, cfgpkg.BackendPebble), Registerer: reg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	if _, err := rt.Queue().Enqueue(ctx, queue.NewMessage([]byte("x"))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if got := testutil.ToFloat64(rt.Metrics().Operations.WithLabelValues("jobs", "enqueue", "ok")); got != 1 {
		t.Fatalf("enqueue counter=%v", got)
	}
	if got := testutil.ToFloat64(rt.Metrics().WriteBytes.WithLabelValues("jobs")); got <= 0 {
		t.Fatalf("storage hook not wired, write bytes=%v", got)
	}
}

func TestRecoveryRequeuesOrphans(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, cfgpkg.BackendMemory)
	cfg.Recovery.IntervalMs = 5
	cfg.Recovery.ThresholdMs = 1
	rt, err := Open(ctx, Options{Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	if _, err := rt.Queue().Enqueue(ctx, queue.NewMessage([]byte("x"))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if m, err := rt.Queue().Take(ctx); err != nil || m == nil {
		t.Fatalf("take: %v %v", m, err)
	}
	rt.StartRecovery()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := rt.Queue().QueueSize(ctx); n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("orphan was not requeued")
}

func TestRecoveryDisabledWithoutEphemeral(t *testing.T) {
	cfg := testConfig(t, cfgpkg.BackendMemory)
	cfg.Queue.EphemeralDisabled = true
	rt, err := Open(context.Background(), Options{Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if rt.Recovery() != nil {
		t.Fatalf("recovery should be disabled when ephemeral tracking is off")
	}
	rt.StartRecovery()
}
