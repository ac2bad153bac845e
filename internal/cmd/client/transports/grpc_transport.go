package transports

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	grpcserver "github.com/rzbill/durq/internal/server/grpc"
	httpserver "github.com/rzbill/durq/internal/server/http"
	"github.com/rzbill/durq/pkg/queue"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// CodeError is returned for failed gRPC calls. It unwraps to the queue error
// matching the status code, so callers can use errors.Is.
type CodeError struct {
	Code    codes.Code
	Message string
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("server returned %s: %s", e.Code, e.Message)
}

func (e *CodeError) Unwrap() error {
	switch e.Code {
	case codes.ResourceExhausted:
		return queue.ErrCapacityExceeded
	case codes.InvalidArgument:
		return queue.ErrInvalidArgument
	case codes.Unavailable:
		return queue.ErrStorageUnavailable
	}
	return nil
}

// GRPCTransport implements QueueTransport against the gRPC service.
type GRPCTransport struct {
	conn *grpc.ClientConn
}

// NewGRPCTransport connects lazily to addr without transport security. opts
// are applied after the defaults.
func NewGRPCTransport(addr string, opts ...grpc.DialOption) (*GRPCTransport, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(grpcserver.CodecName)),
	}, opts...)
	conn, err := grpc.Dial(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &GRPCTransport{conn: conn}, nil
}

func (t *GRPCTransport) invoke(ctx context.Context, method string, in, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}
	err := t.conn.Invoke(ctx, "/"+grpcserver.ServiceName+"/"+method, in, out)
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); ok {
		return &CodeError{Code: st.Code(), Message: st.Message()}
	}
	return err
}

func (t *GRPCTransport) message(method string, raw json.RawMessage) (*queue.Message, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	m, err := httpserver.DecodeMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return m, nil
}

// Enqueue stores payload and returns the stored message.
func (t *GRPCTransport) Enqueue(ctx context.Context, payload []byte) (*queue.Message, error) {
	var out grpcserver.MessageReply
	if err := t.invoke(ctx, "Enqueue", &httpserver.EnqueueRequest{Payload: payload}, &out); err != nil {
		return nil, err
	}
	return t.message("enqueue", out.Message)
}

// Take returns the next message, or nil when the queue is empty.
func (t *GRPCTransport) Take(ctx context.Context) (*queue.Message, error) {
	var out grpcserver.MessageReply
	if err := t.invoke(ctx, "Take", &grpcserver.Empty{}, &out); err != nil {
		return nil, err
	}
	return t.message("take", out.Message)
}

// Finish acknowledges msg.
func (t *GRPCTransport) Finish(ctx context.Context, msg *queue.Message) error {
	raw, err := httpserver.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return t.invoke(ctx, "Finish", &httpserver.MessageRequest{Message: raw}, &grpcserver.Empty{})
}

// Requeue returns msg to the queue.
func (t *GRPCTransport) Requeue(ctx context.Context, msg *queue.Message, silent bool) error {
	raw, err := httpserver.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return t.invoke(ctx, "Requeue", &httpserver.MessageRequest{Message: raw, Silent: silent}, &grpcserver.Empty{})
}

// Orphans lists in-flight messages older than threshold.
func (t *GRPCTransport) Orphans(ctx context.Context, threshold time.Duration) ([]*queue.Message, error) {
	ms := threshold.Milliseconds()
	var resp httpserver.OrphansResponse
	if err := t.invoke(ctx, "Orphans", &grpcserver.OrphansRequest{ThresholdMs: &ms}, &resp); err != nil {
		return nil, err
	}
	out := make([]*queue.Message, 0, len(resp.Messages))
	for _, raw := range resp.Messages {
		m, err := httpserver.DecodeMessage(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Recover asks the server to run one recovery sweep.
func (t *GRPCTransport) Recover(ctx context.Context) (int, error) {
	var resp httpserver.RecoverResponse
	if err := t.invoke(ctx, "Recover", &grpcserver.Empty{}, &resp); err != nil {
		return 0, err
	}
	return resp.Requeued, nil
}

// Stats fetches queue statistics.
func (t *GRPCTransport) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := t.invoke(ctx, "Stats", &grpcserver.Empty{}, &st)
	return st, err
}

// Close closes the client connection.
func (t *GRPCTransport) Close() error {
	return t.conn.Close()
}

var _ QueueTransport = (*GRPCTransport)(nil)
