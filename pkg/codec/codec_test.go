package codec

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rzbill/durq/pkg/queue"
	"google.golang.org/protobuf/encoding/protowire"
)

func sampleMessage() *queue.Message {
	return &queue.Message{
		ID:                "4f1c2e8a-2b53-4a59-8e0c-5f0a2f7d1b11",
		OriginalTimestamp: time.UnixMilli(1_700_000_000_000),
		Timestamp:         time.UnixMilli(1_700_000_005_250),
		NumRequeues:       3,
		Payload:           []byte{0x00, 0xff, 'h', 'i'},
	}
}

func TestCodecsPreserveMessage(t *testing.T) {
	codecs := map[string]queue.Codec{
		"json":   JSON{},
		"binary": Binary{},
		"framed": Default(),
	}
	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			want := sampleMessage()
			b, err := c.Encode(want)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := c.Decode(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("message mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestZeroTimestampsStayZero(t *testing.T) {
	for _, c := range []queue.Codec{JSON{}, Binary{}} {
		b, err := c.Encode(&queue.Message{Payload: []byte("x")})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := c.Decode(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !got.Timestamp.IsZero() || !got.OriginalTimestamp.IsZero() {
			t.Fatalf("%T: zero timestamps changed: %+v", c, got)
		}
	}
}

func TestBinarySkipsUnknownFields(t *testing.T) {
	b, err := Binary{}.Encode(sampleMessage())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	got, err := Binary{}.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.NumRequeues != 3 {
		t.Fatalf("numRequeues=%d", got.NumRequeues)
	}
}

func TestFramedDetectsCorruption(t *testing.T) {
	c := Default()
	b, err := c.Encode(sampleMessage())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b[len(b)/2] ^= 0xff
	if _, err := c.Decode(b); !errors.Is(err, ErrCorruptFrame) {
		t.Fatalf("expected corrupt frame, got %v", err)
	}
	if _, err := c.Decode(b[:5]); !errors.Is(err, ErrCorruptFrame) {
		t.Fatalf("expected corrupt frame for truncated input, got %v", err)
	}
}

func TestQueueDecodeWrapsSerialization(t *testing.T) {
	_, err := queue.Decode(Default(), []byte("garbage!"))
	if !errors.Is(err, queue.ErrSerialization) {
		t.Fatalf("expected serialization failure, got %v", err)
	}
}
