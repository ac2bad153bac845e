package id

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"
)

// Size is the length of an encoded ID in bytes.
const Size = 16

// ID is a 128-bit, lexicographically sortable key encoded as 16 bytes
// big-endian: [8 bytes unix ms][8 bytes sequence].
type ID [Size]byte

// Zero is the zero ID. It sorts before every generated ID.
var Zero ID

// Bytes returns a copy of the raw 16-byte representation.
func (i ID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, i[:])
	return b
}

// String returns the lowercase hex form.
func (i ID) String() string { return hex.EncodeToString(i[:]) }

// Millis returns the unix millisecond component.
func (i ID) Millis() int64 { return int64(binary.BigEndian.Uint64(i[0:8])) }

// Time returns the millisecond component as a time.Time.
func (i ID) Time() time.Time { return time.UnixMilli(i.Millis()) }

// Sequence returns the per-millisecond sequence component.
func (i ID) Sequence() uint64 { return binary.BigEndian.Uint64(i[8:16]) }

// IsZero reports whether i is the zero ID.
func (i ID) IsZero() bool { return i == Zero }

// Compare returns -1, 0, 1 based on lexical comparison.
func (i ID) Compare(other ID) int {
	for idx := 0; idx < Size; idx++ {
		if i[idx] < other[idx] {
			return -1
		}
		if i[idx] > other[idx] {
			return 1
		}
	}
	return 0
}

// FromBytes converts a 16-byte slice into an ID.
func FromBytes(b []byte) (ID, error) {
	var i ID
	if len(b) != Size {
		return i, fmt.Errorf("id: want %d bytes, got %d", Size, len(b))
	}
	copy(i[:], b)
	return i, nil
}

// Parse decodes the hex form produced by String.
func Parse(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("id: %w", err)
	}
	return FromBytes(b)
}

// Generator produces strictly increasing IDs within one process.
//
// Across processes, or across restarts of a host whose clock moved backwards,
// ordering is only approximate unless the generator is floored with Observe.
type Generator struct {
	mu       sync.Mutex
	lastMs   int64
	sequence uint64
}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator { return &Generator{} }

// NowMs returns current time in milliseconds since Unix epoch.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// Observe floors the generator so that every subsequent ID sorts after seen.
func (g *Generator) Observe(seen ID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms, seq := seen.Millis(), seen.Sequence()
	if ms > g.lastMs || (ms == g.lastMs && seq > g.sequence) {
		g.lastMs = ms
		g.sequence = seq
	}
}

// Next returns a new ID. If the clock goes backwards, it stays on lastMs and
// increments the sequence. If the sequence would overflow within the same
// millisecond, it waits for the next millisecond.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := NowMs()
	if ms < g.lastMs {
		ms = g.lastMs
	}

	if ms == g.lastMs {
		if g.sequence == math.MaxUint64 {
			for {
				ms = NowMs()
				if ms > g.lastMs {
					break
				}
				time.Sleep(time.Millisecond / 8)
			}
			g.sequence = 0
		} else {
			g.sequence++
		}
	} else {
		g.sequence = 0
	}

	g.lastMs = ms
	return makeID(ms, g.sequence)
}

func makeID(ms int64, seq uint64) ID {
	var i ID
	binary.BigEndian.PutUint64(i[0:8], uint64(ms))
	binary.BigEndian.PutUint64(i[8:16], seq)
	return i
}
