package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rzbill/durq/internal/runtime"
	httpserver "github.com/rzbill/durq/internal/server/http"
	"github.com/rzbill/durq/pkg/log"
	"github.com/rzbill/durq/pkg/queue"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "durq.v1.QueueService"

// Empty is the request or reply of calls that carry nothing.
type Empty struct{}

// MessageReply carries a message in the API layout. Message is empty when
// Take found nothing.
type MessageReply struct {
	Message json.RawMessage `json:"message,omitempty"`
}

// OrphansRequest selects the orphan threshold. A nil ThresholdMs uses the
// configured recovery threshold.
type OrphansRequest struct {
	ThresholdMs *int64 `json:"threshold_ms,omitempty"`
}

// QueueServer is implemented by the registered queue service.
type QueueServer interface {
	Enqueue(context.Context, *httpserver.EnqueueRequest) (*MessageReply, error)
	Take(context.Context, *Empty) (*MessageReply, error)
	Finish(context.Context, *httpserver.MessageRequest) (*Empty, error)
	Requeue(context.Context, *httpserver.MessageRequest) (*Empty, error)
	Orphans(context.Context, *OrphansRequest) (*httpserver.OrphansResponse, error)
	Recover(context.Context, *Empty) (*httpserver.RecoverResponse, error)
	Stats(context.Context, *Empty) (*httpserver.StatsResponse, error)
}

// ServiceDesc describes QueueServer for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*QueueServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Enqueue", QueueServer.Enqueue),
		unary("Take", QueueServer.Take),
		unary("Finish", QueueServer.Finish),
		unary("Requeue", QueueServer.Requeue),
		unary("Orphans", QueueServer.Orphans),
		unary("Recover", QueueServer.Recover),
		unary("Stats", QueueServer.Stats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "durq/v1/queue",
}

func unary[Req, Resp any](name string, fn func(QueueServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			call := func(ctx context.Context, req any) (any, error) {
				out, err := fn(srv.(QueueServer), ctx, req.(*Req))
				if err != nil {
					return nil, err
				}
				return out, nil
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, call)
		},
	}
}

type queueSvc struct {
	rt     *runtime.Runtime
	logger log.Logger
}

var _ QueueServer = (*queueSvc)(nil)

func (s *queueSvc) Enqueue(ctx context.Context, in *httpserver.EnqueueRequest) (*MessageReply, error) {
	msg, err := s.rt.Queue().Enqueue(ctx, queue.NewMessage(in.Payload))
	if err != nil {
		return nil, s.statusErr("enqueue", err)
	}
	return s.reply(msg)
}

func (s *queueSvc) Take(ctx context.Context, _ *Empty) (*MessageReply, error) {
	msg, err := s.rt.Queue().Take(ctx)
	if err != nil {
		return nil, s.statusErr("take", err)
	}
	if msg == nil {
		return &MessageReply{}, nil
	}
	return s.reply(msg)
}

func (s *queueSvc) Finish(ctx context.Context, in *httpserver.MessageRequest) (*Empty, error) {
	msg, err := httpserver.DecodeMessage(in.Message)
	if err == nil {
		err = s.rt.Queue().Finish(ctx, msg)
	}
	if err != nil {
		return nil, s.statusErr("finish", err)
	}
	return &Empty{}, nil
}

func (s *queueSvc) Requeue(ctx context.Context, in *httpserver.MessageRequest) (*Empty, error) {
	msg, err := httpserver.DecodeMessage(in.Message)
	if err != nil {
		return nil, s.statusErr("requeue", err)
	}
	q := s.rt.Queue()
	if in.Silent {
		err = q.RequeueSilent(ctx, msg)
	} else {
		err = q.Requeue(ctx, msg)
	}
	if err != nil {
		return nil, s.statusErr("requeue", err)
	}
	return &Empty{}, nil
}

func (s *queueSvc) Orphans(ctx context.Context, in *OrphansRequest) (*httpserver.OrphansResponse, error) {
	threshold := s.rt.Config().Recovery.Threshold()
	if in.ThresholdMs != nil {
		threshold = time.Duration(*in.ThresholdMs) * time.Millisecond
	}
	msgs, err := s.rt.Queue().OrphanScan(ctx, threshold)
	if err != nil {
		return nil, s.statusErr("orphans", err)
	}
	resp := &httpserver.OrphansResponse{ThresholdMs: threshold.Milliseconds(), Messages: make([]json.RawMessage, 0, len(msgs))}
	for _, m := range msgs {
		raw, err := httpserver.EncodeMessage(m)
		if err != nil {
			return nil, s.statusErr("orphans", queue.SerializationError(err))
		}
		resp.Messages = append(resp.Messages, raw)
	}
	return resp, nil
}

func (s *queueSvc) Recover(ctx context.Context, _ *Empty) (*httpserver.RecoverResponse, error) {
	d := s.rt.Recovery()
	if d == nil {
		return nil, status.Error(codes.FailedPrecondition, "orphan recovery is disabled")
	}
	n, err := d.Sweep(ctx)
	if err != nil {
		return nil, s.statusErr("recover", err)
	}
	return &httpserver.RecoverResponse{Requeued: n}, nil
}

func (s *queueSvc) Stats(ctx context.Context, _ *Empty) (*httpserver.StatsResponse, error) {
	cfg := s.rt.Config()
	q := s.rt.Queue()
	size, err := q.QueueSize(ctx)
	if err != nil {
		return nil, s.statusErr("stats", err)
	}
	eph, err := q.EphemeralSize(ctx)
	if err != nil {
		return nil, s.statusErr("stats", err)
	}
	return &httpserver.StatsResponse{
		Queue:            cfg.Queue.Name,
		Backend:          cfg.Backend,
		QueueSize:        size,
		EphemeralSize:    eph,
		EphemeralEnabled: !cfg.Queue.EphemeralDisabled,
		EphemeralMaxSize: cfg.Queue.EphemeralMaxSize,
	}, nil
}

func (s *queueSvc) reply(msg *queue.Message) (*MessageReply, error) {
	raw, err := httpserver.EncodeMessage(msg)
	if err != nil {
		return nil, s.statusErr("encode", queue.SerializationError(err))
	}
	return &MessageReply{Message: raw}, nil
}

// CodeFor maps a queue error onto a gRPC status code.
func CodeFor(err error) codes.Code {
	switch {
	case errors.Is(err, queue.ErrCapacityExceeded):
		return codes.ResourceExhausted
	case errors.Is(err, queue.ErrInvalidArgument), errors.Is(err, queue.ErrSerialization):
		return codes.InvalidArgument
	case errors.Is(err, queue.ErrStorageUnavailable):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

func (s *queueSvc) statusErr(op string, err error) error {
	code := CodeFor(err)
	if code == codes.Internal || code == codes.Unavailable {
		s.logger.Error("queue operation failed", log.Str("op", op), log.Err(err))
	}
	return status.Error(code, err.Error())
}
