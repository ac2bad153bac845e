package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/durq/internal/config"
	"github.com/rzbill/durq/internal/runtime"
	httpserver "github.com/rzbill/durq/internal/server/http"
	"github.com/rzbill/durq/pkg/queue"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1 << 20

func dial(t *testing.T, mutate func(*cfgpkg.Config)) *grpc.ClientConn {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Backend = cfgpkg.BackendMemory
	cfg.DataDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}
	rt, err := runtime.Open(context.Background(), runtime.Options{Config: cfg})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	srv := New(rt, nil)
	lis := bufconn.Listen(bufSize)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx, lis)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	conn, err := grpc.Dial("bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func invoke(t *testing.T, conn *grpc.ClientConn, method string, in, out any) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out)
}

func TestHealthOverGRPC(t *testing.T) {
	conn := dial(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// health uses the default proto codec
	res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{}, grpc.CallContentSubtype("proto"))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status=%v", res.GetStatus())
	}
}

func TestQueueLifecycleOverGRPC(t *testing.T) {
	conn := dial(t, nil)

	var enq MessageReply
	if err := invoke(t, conn, "Enqueue", &httpserver.EnqueueRequest{Payload: []byte("hello")}, &enq); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	sent, err := httpserver.DecodeMessage(enq.Message)
	if err != nil {
		t.Fatalf("decode enqueue reply: %v", err)
	}

	var took MessageReply
	if err := invoke(t, conn, "Take", &Empty{}, &took); err != nil {
		t.Fatalf("take: %v", err)
	}
	got, err := httpserver.DecodeMessage(took.Message)
	if err != nil {
		t.Fatalf("decode take reply: %v", err)
	}
	if got.ID != sent.ID || string(got.Payload) != "hello" {
		t.Fatalf("took %+v, want %s", got, sent.ID)
	}

	var st httpserver.StatsResponse
	if err := invoke(t, conn, "Stats", &Empty{}, &st); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.QueueSize != 0 || st.EphemeralSize != 1 || st.Backend != cfgpkg.BackendMemory {
		t.Fatalf("stats=%+v", st)
	}

	if err := invoke(t, conn, "Requeue", &httpserver.MessageRequest{Message: took.Message}, &Empty{}); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	took = MessageReply{}
	if err := invoke(t, conn, "Take", &Empty{}, &took); err != nil {
		t.Fatalf("take again: %v", err)
	}
	again, err := httpserver.DecodeMessage(took.Message)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if again.NumRequeues != 1 {
		t.Fatalf("num requeues=%d", again.NumRequeues)
	}
	if err := invoke(t, conn, "Finish", &httpserver.MessageRequest{Message: took.Message}, &Empty{}); err != nil {
		t.Fatalf("finish: %v", err)
	}

	took = MessageReply{}
	if err := invoke(t, conn, "Take", &Empty{}, &took); err != nil {
		t.Fatalf("take on empty: %v", err)
	}
	if len(took.Message) != 0 {
		t.Fatalf("take on empty returned %s", took.Message)
	}
}

func TestOrphansAndRecoverOverGRPC(t *testing.T) {
	conn := dial(t, nil)
	if err := invoke(t, conn, "Enqueue", &httpserver.EnqueueRequest{Payload: []byte("x")}, &MessageReply{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := invoke(t, conn, "Take", &Empty{}, &MessageReply{}); err != nil {
		t.Fatalf("take: %v", err)
	}

	zero := int64(0)
	var orphans httpserver.OrphansResponse
	if err := invoke(t, conn, "Orphans", &OrphansRequest{ThresholdMs: &zero}, &orphans); err != nil {
		t.Fatalf("orphans: %v", err)
	}
	if len(orphans.Messages) != 1 || orphans.ThresholdMs != 0 {
		t.Fatalf("orphans=%+v", orphans)
	}

	// default threshold is a minute, nothing is that old yet
	orphans = httpserver.OrphansResponse{}
	if err := invoke(t, conn, "Orphans", &OrphansRequest{}, &orphans); err != nil {
		t.Fatalf("orphans: %v", err)
	}
	if len(orphans.Messages) != 0 || orphans.ThresholdMs != 60_000 {
		t.Fatalf("orphans with default threshold=%+v", orphans)
	}

	var rec httpserver.RecoverResponse
	if err := invoke(t, conn, "Recover", &Empty{}, &rec); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if rec.Requeued != 0 {
		t.Fatalf("requeued=%d", rec.Requeued)
	}
}

func TestErrorsOverGRPC(t *testing.T) {
	conn := dial(t, func(c *cfgpkg.Config) {
		c.Queue.EphemeralMaxSize = 1
		c.Recovery.Enabled = false
	})
	for i := 0; i < 2; i++ {
		if err := invoke(t, conn, "Enqueue", &httpserver.EnqueueRequest{Payload: []byte("x")}, &MessageReply{}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if err := invoke(t, conn, "Take", &Empty{}, &MessageReply{}); err != nil {
		t.Fatalf("take: %v", err)
	}

	negative := int64(-1)
	for _, tc := range []struct {
		name   string
		method string
		in     any
		out    any
		want   codes.Code
	}{
		{"capacity", "Take", &Empty{}, &MessageReply{}, codes.ResourceExhausted},
		{"missing message", "Finish", &httpserver.MessageRequest{}, &Empty{}, codes.InvalidArgument},
		{"undecodable message", "Requeue", &httpserver.MessageRequest{Message: []byte(`{"id":1}`)}, &Empty{}, codes.InvalidArgument},
		{"negative threshold", "Orphans", &OrphansRequest{ThresholdMs: &negative}, &httpserver.OrphansResponse{}, codes.InvalidArgument},
		{"recovery disabled", "Recover", &Empty{}, &httpserver.RecoverResponse{}, codes.FailedPrecondition},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := invoke(t, conn, tc.method, tc.in, tc.out)
			if got := status.Code(err); got != tc.want {
				t.Fatalf("code=%v want %v (err=%v)", got, tc.want, err)
			}
		})
	}
}

func TestCodeFor(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want codes.Code
	}{
		{queue.CapacityError("ephemeral store", 1), codes.ResourceExhausted},
		{queue.InvalidArgument("bad"), codes.InvalidArgument},
		{queue.SerializationError(errors.New("bad bytes")), codes.InvalidArgument},
		{queue.StorageError("take", errors.New("disk")), codes.Unavailable},
		{queue.ErrClosed, codes.Unavailable},
		{fmt.Errorf("take: %w", context.DeadlineExceeded), codes.DeadlineExceeded},
		{context.Canceled, codes.Canceled},
		{errors.New("boom"), codes.Internal},
	} {
		if got := CodeFor(tc.err); got != tc.want {
			t.Errorf("CodeFor(%v)=%v want %v", tc.err, got, tc.want)
		}
	}
}
