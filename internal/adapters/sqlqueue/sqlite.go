package sqlqueue

import (
	"context"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLite is the dialect for modernc.org/sqlite.
var SQLite Dialect = sqliteDialect{}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) Schema(table string) []string {
	return []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA synchronous=FULL`,
		`PRAGMA busy_timeout=5000`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			queue_id          INTEGER PRIMARY KEY AUTOINCREMENT,
			msg_id            TEXT NOT NULL,
			msg_org_timestamp BIGINT NOT NULL,
			msg_timestamp     BIGINT NOT NULL,
			msg_num_requeues  INTEGER NOT NULL DEFAULT 0,
			msg_content       BLOB
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_timestamp ON %s (msg_timestamp, queue_id)`, table, table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_ephemeral (
			msg_id            TEXT NOT NULL PRIMARY KEY,
			msg_org_timestamp BIGINT NOT NULL,
			msg_timestamp     BIGINT NOT NULL,
			msg_num_requeues  INTEGER NOT NULL DEFAULT 0,
			msg_content       BLOB
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_ephemeral_timestamp ON %s_ephemeral (msg_timestamp)`, table, table),
	}
}

// SQLite serializes writers on the database file; no row locking is needed.
func (sqliteDialect) LockClause() string { return "" }

func (sqliteDialect) Rebind(query string) string { return query }

func (sqliteDialect) ConvertError(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
