// Package boltstore implements storage.Store on a bbolt file.
//
// Each queue is a top-level bucket with nested buckets for its main,
// ephemeral and metadata partitions. Every Apply is a single read-write
// transaction, which bbolt serializes, so batches are atomic and isolated.
package boltstore
