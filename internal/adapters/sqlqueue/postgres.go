package sqlqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Postgres is the dialect for github.com/lib/pq.
var Postgres Dialect = postgresDialect{}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Schema(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			queue_id          BIGSERIAL PRIMARY KEY,
			msg_id            VARCHAR(64) NOT NULL,
			msg_org_timestamp BIGINT NOT NULL,
			msg_timestamp     BIGINT NOT NULL,
			msg_num_requeues  INTEGER NOT NULL DEFAULT 0,
			msg_content       BYTEA
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_timestamp ON %s (msg_timestamp, queue_id)`, table, table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_ephemeral (
			msg_id            VARCHAR(64) NOT NULL PRIMARY KEY,
			msg_org_timestamp BIGINT NOT NULL,
			msg_timestamp     BIGINT NOT NULL,
			msg_num_requeues  INTEGER NOT NULL DEFAULT 0,
			msg_content       BYTEA
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_ephemeral_timestamp ON %s_ephemeral (msg_timestamp)`, table, table),
	}
}

func (postgresDialect) LockClause() string { return " FOR UPDATE SKIP LOCKED" }

func (postgresDialect) Rebind(query string) string { return rebindDollar(query) }

// ConvertError turns "query_canceled" into the context error that caused it.
func (postgresDialect) ConvertError(ctx context.Context, err error) error {
	if e, ok := unwrapPQError(err); ok && e.Code.Name() == "query_canceled" && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// unwrapPQError returns a *pq.Error if err is either a pq.Error or *pq.Error.
func unwrapPQError(err error) (*pq.Error, bool) {
	e := &pq.Error{}
	if errors.As(err, e) || errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
