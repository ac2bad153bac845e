// Package workqueue is the persistent queue core. It runs over any
// storage.Store and keeps three partitions per queue:
//
//	main       key: 16-byte time-ordered id   value: encoded message
//	ephemeral  key: message id                value: encoded message
//	metadata   last-fetched-id -> main key of the last taken message
//
// # Message Lifecycle
//
//  1. Enqueue: a fresh main key is allocated under the producer lock and the
//     encoded message written to main.
//  2. Take: under the take lock the first main entry at or after the cursor
//     is moved to ephemeral and the cursor advanced, in one batch.
//  3. Finish: the ephemeral entry is deleted.
//  4. Requeue / RequeueSilent: the message is written to main under a new key
//     and its ephemeral entry deleted, in one batch.
//  5. OrphanScan: ephemeral entries older than a threshold are listed for
//     the recovery driver, which requeues them silently.
//
// Keys are allocated by a single generator per queue, so delivery order
// follows enqueue order within one process. Across producers the order is
// the order in which they acquired the producer lock, which is FIFO only
// approximately.
package workqueue
