package storage

import (
	"context"
	"errors"
)

// Partition names one of the three logical keyspaces of a queue.
type Partition uint8

const (
	// Main holds pending messages keyed by sortable keys.
	Main Partition = iota
	// Ephemeral holds in-flight messages keyed by message ID.
	Ephemeral
	// Metadata holds small control values such as the take cursor.
	Metadata
)

func (p Partition) String() string {
	switch p {
	case Main:
		return "main"
	case Ephemeral:
		return "ephemeral"
	case Metadata:
		return "metadata"
	default:
		return "unknown"
	}
}

// PartitionNames maps partitions to the names used on disk.
type PartitionNames struct {
	Main      string `json:"main" yaml:"main"`
	Ephemeral string `json:"ephemeral" yaml:"ephemeral"`
	Metadata  string `json:"metadata" yaml:"metadata"`
}

// DefaultPartitionNames returns the stock names.
func DefaultPartitionNames() PartitionNames {
	return PartitionNames{Main: "queue", Ephemeral: "ephemeral", Metadata: "metadata"}
}

// WithDefaults fills empty names.
func (n PartitionNames) WithDefaults() PartitionNames {
	d := DefaultPartitionNames()
	if n.Main == "" {
		n.Main = d.Main
	}
	if n.Ephemeral == "" {
		n.Ephemeral = d.Ephemeral
	}
	if n.Metadata == "" {
		n.Metadata = d.Metadata
	}
	return n
}

// Validate rejects duplicate partition names.
func (n PartitionNames) Validate() error {
	if n.Main == n.Ephemeral || n.Main == n.Metadata || n.Ephemeral == n.Metadata {
		return errors.New("storage: partition names must be distinct")
	}
	return nil
}

// Name returns the on-disk name of p.
func (n PartitionNames) Name(p Partition) string {
	switch p {
	case Main:
		return n.Main
	case Ephemeral:
		return n.Ephemeral
	default:
		return n.Metadata
	}
}

// OpKind is the type of a batched mutation.
type OpKind uint8

const (
	OpPut OpKind = iota
	OpDelete
)

// Op is one mutation inside an atomic batch.
type Op struct {
	Kind      OpKind
	Partition Partition
	Key       []byte
	Value     []byte
}

// Put returns an Op storing value under key.
func Put(p Partition, key, value []byte) Op {
	return Op{Kind: OpPut, Partition: p, Key: key, Value: value}
}

// Delete returns an Op removing key. Deleting an absent key is not an error.
func Delete(p Partition, key []byte) Op {
	return Op{Kind: OpDelete, Partition: p, Key: key}
}

// Store is an ordered key-value engine holding the partitions of one queue.
//
// Keys within a partition are ordered byte-wise. Returned slices are owned by
// the caller. Implementations must be safe for concurrent use.
type Store interface {
	// Seek returns the first entry of p whose key is >= from. A nil from
	// starts at the beginning of the partition.
	Seek(p Partition, from []byte) (key, value []byte, ok bool, err error)
	// Get returns the value stored under key.
	Get(p Partition, key []byte) (value []byte, ok bool, err error)
	// Last returns the greatest key of p.
	Last(p Partition) (key []byte, ok bool, err error)
	// Scan visits every entry of p in key order using its own iterator.
	// Returning an error from fn stops the scan.
	Scan(p Partition, fn func(key, value []byte) error) error
	// Count returns the number of entries in p.
	Count(p Partition) (int, error)
	// Apply commits ops atomically: either all are applied or none are.
	Apply(ctx context.Context, ops ...Op) error
	// Ping checks that the engine is usable.
	Ping(ctx context.Context) error
	// Close releases the engine.
	Close() error
}
