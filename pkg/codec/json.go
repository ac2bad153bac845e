package codec

import (
	"encoding/json"
	"time"

	"github.com/rzbill/durq/pkg/queue"
)

// JSON encodes messages as a JSON object. Timestamps are unix milliseconds.
type JSON struct{}

type jsonEnvelope struct {
	ID                string `json:"id"`
	OriginalTimestamp int64  `json:"org_ts,omitempty"`
	Timestamp         int64  `json:"ts,omitempty"`
	NumRequeues       int    `json:"num_requeues"`
	Payload           []byte `json:"payload,omitempty"`
}

func (JSON) Encode(msg *queue.Message) ([]byte, error) {
	if msg == nil {
		return nil, errNilMessage
	}
	return json.Marshal(jsonEnvelope{
		ID:                msg.ID,
		OriginalTimestamp: toMillis(msg.OriginalTimestamp),
		Timestamp:         toMillis(msg.Timestamp),
		NumRequeues:       msg.NumRequeues,
		Payload:           msg.Payload,
	})
}

func (JSON) Decode(data []byte) (*queue.Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &queue.Message{
		ID:                env.ID,
		OriginalTimestamp: fromMillis(env.OriginalTimestamp),
		Timestamp:         fromMillis(env.Timestamp),
		NumRequeues:       env.NumRequeues,
		Payload:           env.Payload,
	}, nil
}

// toMillis maps the zero time to 0 so that it survives a round trip.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
