// Package pebblestore wraps Pebble with an fsync policy, metrics hooks, and
// the Keyspace type that lays out a queue's partitions as key prefixes.
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	ks, err := pebblestore.NewKeyspace(db, "jobs", storage.DefaultPartitionNames())
//	_ = ks.Apply(ctx, storage.Put(storage.Main, k, v))
//
// Keyspace layout:
//
//	q/{queue}/{main}/{sortable key}   encoded pending message
//	q/{queue}/{ephemeral}/{id}        encoded in-flight message
//	q/{queue}/{metadata}/{name}       control values (take cursor)
package pebblestore
