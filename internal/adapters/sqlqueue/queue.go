package sqlqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/rzbill/durq/pkg/log"
	"github.com/rzbill/durq/pkg/queue"
	"go.uber.org/multierr"
)

// Options configure a Queue.
type Options struct {
	queue.Options
	// Driver selects the dialect: "sqlite" or "postgres".
	Driver string
	// DSN is passed to sql.Open. Ignored when DB is set.
	DSN string
	// DB is an existing pool. The queue does not close it.
	DB *sql.DB
	// Table is the main table name. Defaults to "durq_queue".
	Table string
	// FIFO orders Take by insertion instead of by msg_timestamp.
	FIFO bool
	// Logger defaults to a no-op logger.
	Logger log.Logger
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Queue is a relational queue.Queue.
type Queue struct {
	db      *sql.DB
	ownsDB  bool
	dialect Dialect
	opts    queue.Options
	logger  log.Logger
	q       statements

	putMu  sync.Mutex
	takeMu sync.Mutex
	scanMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

var _ queue.Queue = (*Queue)(nil)

type statements struct {
	insert          string
	remove          string
	take            string
	upsertEphemeral string
	removeEphemeral string
	orphans         string
	count           string
	countEphemeral  string
}

func newStatements(d Dialect, table string, fifo bool) statements {
	const cols = `msg_id, msg_org_timestamp, msg_timestamp, msg_num_requeues, msg_content`
	order := "msg_timestamp, queue_id"
	if fifo {
		order = "queue_id"
	}
	eph := table + "_ephemeral"
	return statements{
		insert: d.Rebind(fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?)`, table, cols)),
		remove: d.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE queue_id = ?`, table)),
		take: d.Rebind(fmt.Sprintf(`SELECT queue_id, %s FROM %s ORDER BY %s LIMIT 1%s`,
			cols, table, order, d.LockClause())),
		upsertEphemeral: d.Rebind(fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (msg_id) DO UPDATE SET
				msg_org_timestamp = excluded.msg_org_timestamp,
				msg_timestamp = excluded.msg_timestamp,
				msg_num_requeues = excluded.msg_num_requeues,
				msg_content = excluded.msg_content`, eph, cols)),
		removeEphemeral: d.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE msg_id = ?`, eph)),
		orphans:         d.Rebind(fmt.Sprintf(`SELECT %s FROM %s WHERE msg_timestamp <= ? ORDER BY msg_timestamp`, cols, eph)),
		count:           fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table),
		countEphemeral:  fmt.Sprintf(`SELECT COUNT(*) FROM %s`, eph),
	}
}

// Open connects (unless opts.DB is set) and creates the tables if needed.
func Open(ctx context.Context, opts Options) (*Queue, error) {
	d, err := DialectFor(opts.Driver)
	if err != nil {
		return nil, queue.InvalidArgument(err.Error())
	}
	if opts.Table == "" {
		opts.Table = "durq_queue"
	}
	if !tableName.MatchString(opts.Table) {
		return nil, queue.InvalidArgument(fmt.Sprintf("invalid table name %q", opts.Table))
	}

	q := &Queue{
		db:      opts.DB,
		dialect: d,
		opts:    opts.Options.WithDefaults(nil),
		logger:  opts.Logger,
		q:       newStatements(d, opts.Table, opts.FIFO),
	}
	if q.logger == nil {
		q.logger = log.NewNop()
	}
	if q.db == nil {
		if opts.DSN == "" {
			return nil, queue.InvalidArgument("sqlqueue: DSN is required")
		}
		db, err := sql.Open(d.Name(), opts.DSN)
		if err != nil {
			return nil, queue.StorageError("open", err)
		}
		if d == SQLite {
			db.SetMaxOpenConns(1)
		}
		q.db, q.ownsDB = db, true
	}

	for _, stmt := range d.Schema(opts.Table) {
		if _, err := q.db.ExecContext(ctx, stmt); err != nil {
			err = queue.StorageError("create schema", d.ConvertError(ctx, err))
			if q.ownsDB {
				err = multierr.Append(err, q.db.Close())
			}
			return nil, err
		}
	}
	q.logger.Debug("sql queue opened", log.Str("driver", d.Name()), log.Str("table", opts.Table), log.Bool("fifo", opts.FIFO))
	return q, nil
}

func (q *Queue) storageErr(ctx context.Context, op string, err error) error {
	return queue.StorageError(op, q.dialect.ConvertError(ctx, err))
}

func args(m *queue.Message) []interface{} {
	return []interface{}{m.ID, m.OriginalTimestamp.UnixMilli(), m.Timestamp.UnixMilli(), m.NumRequeues, m.Payload}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(s scanner, prefix ...interface{}) (*queue.Message, error) {
	var (
		m       queue.Message
		org, ts int64
	)
	dest := append(prefix, &m.ID, &org, &ts, &m.NumRequeues, &m.Payload)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	m.OriginalTimestamp = time.UnixMilli(org)
	m.Timestamp = time.UnixMilli(ts)
	return &m, nil
}

// Enqueue inserts a copy of msg.
func (q *Queue) Enqueue(ctx context.Context, msg *queue.Message) (*queue.Message, error) {
	m, err := queue.PrepareEnqueue(msg, q.opts.Now())
	if err != nil {
		return nil, err
	}
	q.putMu.Lock()
	defer q.putMu.Unlock()
	if _, err := q.db.ExecContext(ctx, q.q.insert, args(m)...); err != nil {
		return nil, q.storageErr(ctx, "enqueue", err)
	}
	return m, nil
}

// Requeue re-inserts msg with NumRequeues incremented.
func (q *Queue) Requeue(ctx context.Context, msg *queue.Message) error {
	return q.requeue(ctx, msg, false)
}

// RequeueSilent re-inserts msg unchanged.
func (q *Queue) RequeueSilent(ctx context.Context, msg *queue.Message) error {
	return q.requeue(ctx, msg, true)
}

func (q *Queue) requeue(ctx context.Context, msg *queue.Message, silent bool) (err error) {
	m, err := queue.PrepareRequeue(msg, q.opts.Now(), silent)
	if err != nil {
		return err
	}
	q.putMu.Lock()
	defer q.putMu.Unlock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return q.storageErr(ctx, "requeue", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, q.q.insert, args(m)...); err != nil {
		return q.storageErr(ctx, "requeue", err)
	}
	if !q.opts.EphemeralDisabled {
		if _, err = tx.ExecContext(ctx, q.q.removeEphemeral, m.ID); err != nil {
			return q.storageErr(ctx, "requeue", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return q.storageErr(ctx, "requeue", err)
	}
	return nil
}

// Take moves the head row into the ephemeral table.
func (q *Queue) Take(ctx context.Context) (_ *queue.Message, err error) {
	q.takeMu.Lock()
	defer q.takeMu.Unlock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, q.storageErr(ctx, "take", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if !q.opts.EphemeralDisabled && q.opts.EphemeralMaxSize > 0 {
		var n int
		if err = tx.QueryRowContext(ctx, q.q.countEphemeral).Scan(&n); err != nil {
			return nil, q.storageErr(ctx, "take", err)
		}
		if q.opts.CapacityReached(n) {
			err = queue.CapacityError("ephemeral table", q.opts.EphemeralMaxSize)
			return nil, err
		}
	}

	var queueID int64
	m, err := scanMessage(tx.QueryRowContext(ctx, q.q.take), &queueID)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.Rollback()
		if err != nil {
			return nil, q.storageErr(ctx, "take", err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, q.storageErr(ctx, "take", err)
	}

	if _, err = tx.ExecContext(ctx, q.q.remove, queueID); err != nil {
		return nil, q.storageErr(ctx, "take", err)
	}
	if !q.opts.EphemeralDisabled {
		if _, err = tx.ExecContext(ctx, q.q.upsertEphemeral, args(m)...); err != nil {
			return nil, q.storageErr(ctx, "take", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, q.storageErr(ctx, "take", err)
	}
	return m, nil
}

// Finish deletes msg from the ephemeral table.
func (q *Queue) Finish(ctx context.Context, msg *queue.Message) error {
	if err := queue.Validate(msg); err != nil {
		return err
	}
	if q.opts.EphemeralDisabled {
		return nil
	}
	if _, err := q.db.ExecContext(ctx, q.q.removeEphemeral, msg.ID); err != nil {
		return q.storageErr(ctx, "finish", err)
	}
	return nil
}

// OrphanScan selects ephemeral rows whose msg_timestamp is at least
// threshold old.
func (q *Queue) OrphanScan(ctx context.Context, threshold time.Duration) (_ []*queue.Message, err error) {
	if threshold < 0 {
		return nil, queue.InvalidArgument("negative orphan threshold")
	}
	if q.opts.EphemeralDisabled {
		return nil, nil
	}
	q.scanMu.Lock()
	defer q.scanMu.Unlock()

	cutoff := q.opts.Now().Add(-threshold).UnixMilli()
	rows, err := q.db.QueryContext(ctx, q.q.orphans, cutoff)
	if err != nil {
		return nil, q.storageErr(ctx, "orphan scan", err)
	}
	defer func() { err = multierr.Append(err, rows.Close()) }()

	var out []*queue.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, q.storageErr(ctx, "orphan scan", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, q.storageErr(ctx, "orphan scan", err)
	}
	return out, nil
}

// QueueSize counts rows in the main table.
func (q *Queue) QueueSize(ctx context.Context) (int, error) {
	return q.count(ctx, q.q.count)
}

// EphemeralSize counts rows in the ephemeral table.
func (q *Queue) EphemeralSize(ctx context.Context) (int, error) {
	if q.opts.EphemeralDisabled {
		return 0, nil
	}
	return q.count(ctx, q.q.countEphemeral)
}

func (q *Queue) count(ctx context.Context, stmt string) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, stmt).Scan(&n); err != nil {
		return 0, q.storageErr(ctx, "count", err)
	}
	return n, nil
}

// Ping checks the connection.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.db.PingContext(ctx); err != nil {
		return q.storageErr(ctx, "ping", err)
	}
	return nil
}

// Close closes the pool when the queue opened it.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		if q.ownsDB {
			q.closeErr = q.db.Close()
		}
	})
	return q.closeErr
}
