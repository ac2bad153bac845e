package httpserver

import (
	"encoding/json"

	"github.com/rzbill/durq/pkg/codec"
	"github.com/rzbill/durq/pkg/queue"
)

// EnqueueRequest is the body of POST /v1/queue/enqueue.
type EnqueueRequest struct {
	Payload []byte `json:"payload"`
}

// MessageRequest is the body of finish and requeue. Message is a message as
// returned by take.
type MessageRequest struct {
	Message json.RawMessage `json:"message"`
	Silent  bool            `json:"silent,omitempty"`
}

// OrphansResponse lists in-flight messages older than the threshold.
type OrphansResponse struct {
	ThresholdMs int64             `json:"threshold_ms"`
	Messages    []json.RawMessage `json:"messages"`
}

// RecoverResponse reports one recovery sweep.
type RecoverResponse struct {
	Requeued int `json:"requeued"`
}

// StatsResponse describes the served queue.
type StatsResponse struct {
	Queue            string `json:"queue"`
	Backend          string `json:"backend"`
	QueueSize        int    `json:"queue_size"`
	EphemeralSize    int    `json:"ephemeral_size"`
	EphemeralEnabled bool   `json:"ephemeral_enabled"`
	EphemeralMaxSize int    `json:"ephemeral_max_size"`
}

// ErrorResponse is written with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

var wire codec.JSON

// EncodeMessage renders msg in the API layout.
func EncodeMessage(msg *queue.Message) (json.RawMessage, error) {
	return wire.Encode(msg)
}

// DecodeMessage parses a message in the API layout.
func DecodeMessage(raw json.RawMessage) (*queue.Message, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, queue.InvalidArgument("message is required")
	}
	msg, err := wire.Decode(raw)
	if err != nil {
		return nil, queue.SerializationError(err)
	}
	return msg, nil
}
