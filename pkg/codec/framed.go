package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/rzbill/durq/pkg/queue"
)

// Frame layout: headerLen(4B BE) | header | body | crc32c(header|body)
//
// The header is a single version byte today.

const frameVersion byte = 1

var (
	castagnoli = crc32.MakeTable(crc32.Castagnoli)

	// ErrCorruptFrame is returned when a frame is truncated or fails its checksum.
	ErrCorruptFrame = errors.New("codec: corrupt frame")
)

type framed struct {
	inner queue.Codec
}

// Framed wraps inner so that every encoded value carries a checksum.
func Framed(inner queue.Codec) queue.Codec {
	return framed{inner: inner}
}

// Default is the codec used by the embedded stores: Binary inside a frame.
func Default() queue.Codec {
	return Framed(Binary{})
}

func (f framed) Encode(msg *queue.Message) ([]byte, error) {
	body, err := f.inner.Encode(msg)
	if err != nil {
		return nil, err
	}
	return encodeFrame([]byte{frameVersion}, body), nil
}

func (f framed) Decode(data []byte) (*queue.Message, error) {
	header, body, ok := decodeFrame(data)
	if !ok {
		return nil, ErrCorruptFrame
	}
	if len(header) != 1 || header[0] != frameVersion {
		return nil, fmt.Errorf("codec: unsupported frame header %x", header)
	}
	return f.inner.Decode(body)
}

func encodeFrame(header, body []byte) []byte {
	out := make([]byte, 0, 4+len(header)+len(body)+4)
	var hb [4]byte
	binary.BigEndian.PutUint32(hb[:], uint32(len(header)))
	out = append(out, hb[:]...)
	out = append(out, header...)
	out = append(out, body...)
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, body)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc)
	return append(out, cb[:]...)
}

func decodeFrame(b []byte) (header, body []byte, ok bool) {
	if len(b) < 8 {
		return nil, nil, false
	}
	hlen := binary.BigEndian.Uint32(b[:4])
	if uint64(hlen)+8 > uint64(len(b)) {
		return nil, nil, false
	}
	headerEnd := 4 + int(hlen)
	header = b[4:headerEnd]
	body = b[headerEnd : len(b)-4]
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, body)
	if crc != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return nil, nil, false
	}
	return header, body, true
}
