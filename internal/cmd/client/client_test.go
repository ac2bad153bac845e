package client

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rzbill/durq/internal/cmd/client/transports"
	cfgpkg "github.com/rzbill/durq/internal/config"
	"github.com/rzbill/durq/internal/runtime"
	grpcserver "github.com/rzbill/durq/internal/server/grpc"
	httpserver "github.com/rzbill/durq/internal/server/http"
	"github.com/rzbill/durq/pkg/log"
	"github.com/rzbill/durq/pkg/queue"
)

func startServer(t *testing.T, mutate func(*cfgpkg.Config)) string {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Backend = cfgpkg.BackendMemory
	cfg.Recovery.ThresholdMs = 1
	if mutate != nil {
		mutate(&cfg)
	}
	rt, err := runtime.Open(context.Background(), runtime.Options{Config: cfg})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	ts := httptest.NewServer(httpserver.New(rt, log.NewNop(), nil).Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = rt.Close()
	})
	return ts.URL
}

func startGRPCServer(t *testing.T, mutate func(*cfgpkg.Config)) string {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Backend = cfgpkg.BackendMemory
	cfg.Recovery.ThresholdMs = 1
	if mutate != nil {
		mutate(&cfg)
	}
	rt, err := runtime.Open(context.Background(), runtime.Options{Config: cfg})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = grpcserver.New(rt, log.NewNop()).Serve(ctx, lis)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = rt.Close()
	})
	return "grpc://" + lis.Addr().String()
}

func runQueue(t *testing.T, url, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewQueueCommand(func() string { return url })
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestQueueCommandsLifecycle(t *testing.T) {
	url := startServer(t, nil)

	if _, _, err := runQueue(t, url, "", "enqueue", "--data", "hello"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	taken, _, err := runQueue(t, url, "", "take")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	msg, err := httpserver.DecodeMessage([]byte(strings.TrimSpace(taken)))
	if err != nil || string(msg.Payload) != "hello" {
		t.Fatalf("take output %q: %v", taken, err)
	}

	stats, _, err := runQueue(t, url, "", "stats")
	if err != nil || !strings.Contains(stats, "ephemeral_size: 1") {
		t.Fatalf("stats before finish: %q %v", stats, err)
	}

	out, _, err := runQueue(t, url, "", "finish", "--message", strings.TrimSpace(taken))
	if err != nil || !strings.Contains(out, "OK") {
		t.Fatalf("finish: %q %v", out, err)
	}
	stats, _, _ = runQueue(t, url, "", "stats")
	if !strings.Contains(stats, "queue_size:     0") || !strings.Contains(stats, "ephemeral_size: 0") {
		t.Fatalf("stats after finish: %q", stats)
	}
}

func TestRequeueFromStdin(t *testing.T) {
	url := startServer(t, nil)
	if _, _, err := runQueue(t, url, "", "enqueue", "retry", "me"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	taken, _, err := runQueue(t, url, "", "take")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if _, _, err := runQueue(t, url, taken, "requeue", "--message", "-"); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	again, _, err := runQueue(t, url, "", "take", "--finish")
	if err != nil {
		t.Fatalf("take again: %v", err)
	}
	msg, err := httpserver.DecodeMessage([]byte(strings.TrimSpace(again)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(msg.Payload) != "retry me" || msg.NumRequeues != 1 {
		t.Fatalf("requeued message: %+v", msg)
	}
}

func TestTakeOnEmptyQueue(t *testing.T) {
	url := startServer(t, nil)
	out, errOut, err := runQueue(t, url, "", "take")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if out != "" || !strings.Contains(errOut, "empty") {
		t.Fatalf("out=%q err=%q", out, errOut)
	}
}

func TestEnqueueRequiresPayload(t *testing.T) {
	url := startServer(t, nil)
	if _, _, err := runQueue(t, url, "", "enqueue"); err == nil {
		t.Fatalf("expected error without payload")
	}
	if _, _, err := runQueue(t, url, "", "finish"); err == nil {
		t.Fatalf("expected error without --message")
	}
}

func TestOrphansAndRecover(t *testing.T) {
	url := startServer(t, nil)
	if _, _, err := runQueue(t, url, "", "enqueue", "-d", "stuck"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, _, err := runQueue(t, url, "", "take"); err != nil {
		t.Fatalf("take: %v", err)
	}
	out, errOut, err := runQueue(t, url, "", "orphans", "--threshold", "0s", "--pretty")
	if err != nil {
		t.Fatalf("orphans: %v", err)
	}
	if !strings.Contains(out, `"payload_text": "stuck"`) || !strings.Contains(errOut, "1 orphan(s)") {
		t.Fatalf("orphans output: %q %q", out, errOut)
	}
	time.Sleep(5 * time.Millisecond)
	out, _, err = runQueue(t, url, "", "recover")
	if err != nil || !strings.Contains(out, "requeued: 1") {
		t.Fatalf("recover: %q %v", out, err)
	}
}

func TestTransportMapsStatusToQueueErrors(t *testing.T) {
	url := startServer(t, func(c *cfgpkg.Config) { c.Queue.EphemeralMaxSize = 1 })
	tr := transports.NewHTTPTransport(url, nil)
	ctx := context.Background()
	for _, p := range []string{"a", "b"} {
		if _, err := tr.Enqueue(ctx, []byte(p)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if _, err := tr.Take(ctx); err != nil {
		t.Fatalf("take: %v", err)
	}
	_, err := tr.Take(ctx)
	if !errors.Is(err, queue.ErrCapacityExceeded) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	var se *transports.StatusError
	if !errors.As(err, &se) || se.Code != 429 {
		t.Fatalf("status error: %#v", err)
	}
	if _, err := tr.Orphans(ctx, -time.Second); !errors.Is(err, queue.ErrInvalidArgument) {
		t.Fatalf("negative threshold: %v", err)
	}
}

func TestQueueCommandsOverGRPC(t *testing.T) {
	url := startGRPCServer(t, nil)

	if _, _, err := runQueue(t, url, "", "enqueue", "--data", "over grpc"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	taken, _, err := runQueue(t, url, "", "take")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	msg, err := httpserver.DecodeMessage([]byte(strings.TrimSpace(taken)))
	if err != nil || string(msg.Payload) != "over grpc" {
		t.Fatalf("take output %q: %v", taken, err)
	}
	if _, _, err := runQueue(t, url, strings.TrimSpace(taken), "requeue", "--message", "-", "--silent"); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	taken, _, err = runQueue(t, url, "", "take", "--finish")
	if err != nil || !strings.Contains(taken, msg.ID) {
		t.Fatalf("take --finish: %q %v", taken, err)
	}
	_, errOut, err := runQueue(t, url, "", "take")
	if err != nil || !strings.Contains(errOut, "queue is empty") {
		t.Fatalf("take on empty: %q %v", errOut, err)
	}
	stats, _, err := runQueue(t, url, "", "stats")
	if err != nil || !strings.Contains(stats, "backend:        memory") || !strings.Contains(stats, "ephemeral_size: 0") {
		t.Fatalf("stats: %q %v", stats, err)
	}
}

func TestGRPCTransportMapsCodesToQueueErrors(t *testing.T) {
	url := startGRPCServer(t, func(c *cfgpkg.Config) { c.Queue.EphemeralMaxSize = 1 })
	tr, err := transports.NewGRPCTransport(strings.TrimPrefix(url, "grpc://"))
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	defer tr.Close()
	ctx := context.Background()
	for _, p := range []string{"a", "b"} {
		if _, err := tr.Enqueue(ctx, []byte(p)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if _, err := tr.Take(ctx); err != nil {
		t.Fatalf("take: %v", err)
	}
	if _, err := tr.Take(ctx); !errors.Is(err, queue.ErrCapacityExceeded) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if _, err := tr.Orphans(ctx, -time.Second); !errors.Is(err, queue.ErrInvalidArgument) {
		t.Fatalf("negative threshold: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	n, err := tr.Recover(ctx)
	if err != nil || n != 1 {
		t.Fatalf("recover: %d %v", n, err)
	}
}

func TestDecodedMessage(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
		key     string
	}{
		{"json", []byte(`{"a":1}`), "payload_json"},
		{"text", []byte("plain"), "payload_text"},
		{"binary", []byte{0xff, 0xfe, 0x00}, "payload_b64"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := decodedMessage(&queue.Message{ID: "x", Payload: tc.payload})
			if _, ok := out[tc.key]; !ok {
				t.Fatalf("missing %s in %v", tc.key, out)
			}
		})
	}
}

func TestBenchDrainsEverything(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.Backend = cfgpkg.BackendMemory
	res, err := Bench(context.Background(), BenchOptions{
		Config:      cfg,
		Producers:   4,
		Messages:    50,
		Consumers:   3,
		PayloadSize: 16,
	})
	if err != nil {
		t.Fatalf("bench: %v", err)
	}
	if res.Enqueued != 200 || res.Taken != 200 || res.QueueSize != 0 || res.EphemeralSize != 0 {
		t.Fatalf("result: %+v", res)
	}
}

func TestBenchCommand(t *testing.T) {
	cmd := NewBenchCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--backend", "bolt", "--producers", "2", "--messages", "20", "--consumers", "2", "--data-dir", t.TempDir()})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("bench: %v", err)
	}
	if !strings.Contains(out.String(), "taken:          40") {
		t.Fatalf("output: %s", out.String())
	}
}
