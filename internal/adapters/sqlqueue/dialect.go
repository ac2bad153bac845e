package sqlqueue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between database engines.
type Dialect interface {
	// Name is the database/sql driver name.
	Name() string
	// Schema returns the statements creating the queue's tables.
	Schema(table string) []string
	// LockClause is appended to the select issued by Take.
	LockClause() string
	// Rebind rewrites '?' placeholders into the dialect's form.
	Rebind(query string) string
	// ConvertError normalizes driver errors.
	ConvertError(ctx context.Context, err error) error
}

// DialectFor returns the dialect registered under the driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	default:
		return nil, fmt.Errorf("sqlqueue: unsupported driver %q", driver)
	}
}

// rebindDollar rewrites '?' into $1, $2, ... Queries in this package never
// contain a literal question mark.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
