package queue

import "errors"

var errNilDecode = errors.New("codec returned no message")

// Codec converts messages to and from their stored form.
type Codec interface {
	Encode(msg *Message) ([]byte, error)
	Decode(data []byte) (*Message, error)
}

// CodecFuncs adapts a pair of functions to the Codec interface.
type CodecFuncs struct {
	EncodeFunc func(*Message) ([]byte, error)
	DecodeFunc func([]byte) (*Message, error)
}

func (c CodecFuncs) Encode(msg *Message) ([]byte, error)  { return c.EncodeFunc(msg) }
func (c CodecFuncs) Decode(data []byte) (*Message, error) { return c.DecodeFunc(data) }

// Encode runs c.Encode, reporting failures as ErrSerialization.
func Encode(c Codec, msg *Message) ([]byte, error) {
	b, err := c.Encode(msg)
	if err != nil {
		return nil, SerializationError(err)
	}
	return b, nil
}

// Decode runs c.Decode, reporting failures as ErrSerialization.
func Decode(c Codec, data []byte) (*Message, error) {
	m, err := c.Decode(data)
	if err != nil {
		return nil, SerializationError(err)
	}
	if m == nil {
		return nil, SerializationError(errNilDecode)
	}
	return m, nil
}
