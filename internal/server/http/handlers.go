package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rzbill/durq/pkg/log"
	"github.com/rzbill/durq/pkg/queue"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 8 << 20

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if !s.decode(w, r, &req) {
		return
	}
	msg, err := s.rt.Queue().Enqueue(r.Context(), queue.NewMessage(req.Payload))
	if err != nil {
		s.writeQueueError(w, "enqueue", err)
		return
	}
	s.writeMessage(w, http.StatusCreated, msg)
}

func (s *Server) handleTake(w http.ResponseWriter, r *http.Request) {
	msg, err := s.rt.Queue().Take(r.Context())
	if err != nil {
		s.writeQueueError(w, "take", err)
		return
	}
	if msg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeMessage(w, http.StatusOK, msg)
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.decodeMessage(w, r)
	if !ok {
		return
	}
	if err := s.rt.Queue().Finish(r.Context(), msg); err != nil {
		s.writeQueueError(w, "finish", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if !s.decode(w, r, &req) {
		return
	}
	msg, err := DecodeMessage(req.Message)
	if err != nil {
		s.writeQueueError(w, "requeue", err)
		return
	}
	q := s.rt.Queue()
	if req.Silent {
		err = q.RequeueSilent(r.Context(), msg)
	} else {
		err = q.Requeue(r.Context(), msg)
	}
	if err != nil {
		s.writeQueueError(w, "requeue", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOrphans(w http.ResponseWriter, r *http.Request) {
	threshold := s.rt.Config().Recovery.Threshold()
	if v := r.URL.Query().Get("threshold_ms"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeStatus(w, http.StatusBadRequest, ErrorResponse{Error: "threshold_ms must be an integer"})
			return
		}
		threshold = time.Duration(ms) * time.Millisecond
	}
	msgs, err := s.rt.Queue().OrphanScan(r.Context(), threshold)
	if err != nil {
		s.writeQueueError(w, "orphans", err)
		return
	}
	resp := OrphansResponse{ThresholdMs: threshold.Milliseconds(), Messages: make([]json.RawMessage, 0, len(msgs))}
	for _, m := range msgs {
		raw, err := EncodeMessage(m)
		if err != nil {
			s.writeQueueError(w, "orphans", queue.SerializationError(err))
			return
		}
		resp.Messages = append(resp.Messages, raw)
	}
	writeJSON(w, resp)
}

// handleRecover runs one recovery sweep on demand.
func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	d := s.rt.Recovery()
	if d == nil {
		writeStatus(w, http.StatusConflict, ErrorResponse{Error: "orphan recovery is disabled"})
		return
	}
	n, err := d.Sweep(r.Context())
	if err != nil {
		s.writeQueueError(w, "recover", err)
		return
	}
	writeJSON(w, RecoverResponse{Requeued: n})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	cfg := s.rt.Config()
	q := s.rt.Queue()
	size, err := q.QueueSize(r.Context())
	if err != nil {
		s.writeQueueError(w, "stats", err)
		return
	}
	eph, err := q.EphemeralSize(r.Context())
	if err != nil {
		s.writeQueueError(w, "stats", err)
		return
	}
	writeJSON(w, StatsResponse{
		Queue:            cfg.Queue.Name,
		Backend:          cfg.Backend,
		QueueSize:        size,
		EphemeralSize:    eph,
		EphemeralEnabled: !cfg.Queue.EphemeralDisabled,
		EphemeralMaxSize: cfg.Queue.EphemeralMaxSize,
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeStatus(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) decodeMessage(w http.ResponseWriter, r *http.Request) (*queue.Message, bool) {
	var req MessageRequest
	if !s.decode(w, r, &req) {
		return nil, false
	}
	msg, err := DecodeMessage(req.Message)
	if err != nil {
		s.writeQueueError(w, r.URL.Path, err)
		return nil, false
	}
	return msg, true
}

func (s *Server) writeMessage(w http.ResponseWriter, status int, msg *queue.Message) {
	raw, err := EncodeMessage(msg)
	if err != nil {
		s.writeQueueError(w, "encode", queue.SerializationError(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

// StatusFor maps a queue error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, queue.ErrCapacityExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, queue.ErrInvalidArgument), errors.Is(err, queue.ErrSerialization):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeQueueError(w http.ResponseWriter, op string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("queue operation failed", log.Str("op", op), log.Err(err))
	}
	writeStatus(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, data any) {
	writeStatus(w, http.StatusOK, data)
}

func writeStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
