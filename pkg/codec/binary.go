package codec

import (
	"errors"
	"fmt"

	"github.com/rzbill/durq/pkg/queue"
	"google.golang.org/protobuf/encoding/protowire"
)

var errNilMessage = errors.New("codec: nil message")

// Field numbers of the binary layout. They follow protobuf wire rules so the
// layout can gain fields without breaking stored data.
const (
	fieldID                protowire.Number = 1
	fieldOriginalTimestamp protowire.Number = 2
	fieldTimestamp         protowire.Number = 3
	fieldNumRequeues       protowire.Number = 4
	fieldPayload           protowire.Number = 5
)

// Binary encodes messages in protobuf wire format.
type Binary struct{}

func (Binary) Encode(msg *queue.Message) ([]byte, error) {
	if msg == nil {
		return nil, errNilMessage
	}
	b := make([]byte, 0, 48+len(msg.ID)+len(msg.Payload))
	if msg.ID != "" {
		b = protowire.AppendTag(b, fieldID, protowire.BytesType)
		b = protowire.AppendString(b, msg.ID)
	}
	if ms := toMillis(msg.OriginalTimestamp); ms != 0 {
		b = protowire.AppendTag(b, fieldOriginalTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(ms))
	}
	if ms := toMillis(msg.Timestamp); ms != 0 {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(ms))
	}
	if msg.NumRequeues != 0 {
		b = protowire.AppendTag(b, fieldNumRequeues, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(msg.NumRequeues))
	}
	if msg.Payload != nil {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, msg.Payload)
	}
	return b, nil
}

func (Binary) Decode(data []byte) (*queue.Message, error) {
	msg := &queue.Message{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("codec: tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("codec: id: %w", protowire.ParseError(n))
			}
			msg.ID = v
			data = data[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("codec: payload: %w", protowire.ParseError(n))
			}
			msg.Payload = append([]byte{}, v...)
			data = data[n:]
		case (num == fieldOriginalTimestamp || num == fieldTimestamp || num == fieldNumRequeues) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("codec: field %d: %w", num, protowire.ParseError(n))
			}
			switch num {
			case fieldOriginalTimestamp:
				msg.OriginalTimestamp = fromMillis(protowire.DecodeZigZag(v))
			case fieldTimestamp:
				msg.Timestamp = fromMillis(protowire.DecodeZigZag(v))
			default:
				msg.NumRequeues = int(v)
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("codec: skip field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return msg, nil
}
