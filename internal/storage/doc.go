// Package storage defines the ordered key-value abstraction behind the
// embedded queue backends.
//
// A Store exposes three partitions (Main, Ephemeral, Metadata), point reads,
// bounded scans, and atomic batches of Put/Delete operations. Engines live in
// subpackages: pebblestore (the default) and boltstore.
package storage
