// Package sqlqueue implements queue.Queue on a relational database through
// database/sql. Two dialects are provided: SQLite (modernc.org/sqlite) and
// PostgreSQL (github.com/lib/pq).
//
// A queue named "jobs" uses two tables:
//
//	jobs            queue_id (autoincrement), msg_id, msg_org_timestamp,
//	                msg_timestamp, msg_num_requeues, msg_content
//	jobs_ephemeral  the same columns keyed by msg_id
//
// Timestamps are unix milliseconds. Messages are stored column by column, so
// rows can be inspected with plain SQL; no codec is involved.
//
// Take selects, deletes and copies one row in a single transaction. With
// FIFO set, rows are taken in insertion order (queue_id); otherwise by
// msg_timestamp, which lets requeued messages overtake older ones that were
// requeued later. On PostgreSQL the select uses FOR UPDATE SKIP LOCKED, so
// several processes can share one table.
package sqlqueue
