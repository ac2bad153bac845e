package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rzbill/durq/pkg/codec"
	"github.com/rzbill/durq/pkg/log"
	"github.com/rzbill/durq/pkg/queue"
	"github.com/sony/gobreaker"
)

// Options configure a Queue.
type Options struct {
	queue.Options
	// Client is an existing connection. When nil, one is created from Addr,
	// Password and DB and closed with the queue.
	Client   redis.UniversalClient
	Addr     string
	Password string
	DB       int
	// Prefix namespaces the keys. Defaults to "durq".
	Prefix string
	// Name identifies the queue.
	Name string
	// Breaker overrides the circuit breaker settings. Name and ReadyToTrip
	// are filled in when empty.
	Breaker gobreaker.Settings
	// Logger defaults to a no-op logger.
	Logger log.Logger
}

// Queue is a queue.Queue on Redis Streams.
type Queue struct {
	client     redis.UniversalClient
	ownsClient bool
	cb         *gobreaker.CircuitBreaker
	opts       queue.Options
	logger     log.Logger

	logKey, ephemeralKey, cursorKey string

	putMu  sync.Mutex
	takeMu sync.Mutex
	scanMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

var _ queue.Queue = (*Queue)(nil)

// Keys returns the stream, ephemeral hash and cursor keys of a queue.
func Keys(prefix, name string) (stream, ephemeral, cursor string) {
	base := fmt.Sprintf("%s:{%s}", prefix, name)
	return base + ":log", base + ":ephemeral", base + ":cursor"
}

// New returns a queue. It does not contact the server; use Ping to check
// connectivity.
func New(opts Options) (*Queue, error) {
	if opts.Name == "" || strings.ContainsAny(opts.Name, "{}") {
		return nil, queue.InvalidArgument(fmt.Sprintf("invalid redis queue name %q", opts.Name))
	}
	if opts.Prefix == "" {
		opts.Prefix = "durq"
	}
	q := &Queue{
		client: opts.Client,
		opts:   opts.Options.WithDefaults(codec.Default()),
		logger: opts.Logger,
	}
	if q.logger == nil {
		q.logger = log.NewNop()
	}
	if q.client == nil {
		if opts.Addr == "" {
			return nil, queue.InvalidArgument("redisqueue: Addr is required")
		}
		q.client = redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
		q.ownsClient = true
	}
	q.logKey, q.ephemeralKey, q.cursorKey = Keys(opts.Prefix, opts.Name)

	st := opts.Breaker
	if st.Name == "" {
		st.Name = "redis:" + opts.Name
	}
	if st.ReadyToTrip == nil {
		st.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		}
	}
	if st.MaxRequests == 0 {
		st.MaxRequests = 5
	}
	if st.Interval == 0 {
		st.Interval = 60 * time.Second
	}
	if st.Timeout == 0 {
		st.Timeout = 10 * time.Second
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		q.logger.Warn("circuit breaker state changed",
			log.Str("breaker", name), log.Str("from", from.String()), log.Str("to", to.String()))
	}
	q.cb = gobreaker.NewCircuitBreaker(st)
	return q, nil
}

// do runs fn through the breaker. redis.Nil is a result, not a failure.
func (q *Queue) do(ctx context.Context, op string, fn func() (interface{}, error)) (interface{}, error) {
	v, err := q.cb.Execute(func() (interface{}, error) {
		v, err := fn()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return v, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, queue.StorageError(op, ctx.Err())
		}
		return nil, queue.StorageError(op, err)
	}
	return v, nil
}

// Enqueue appends a copy of msg to the stream.
func (q *Queue) Enqueue(ctx context.Context, msg *queue.Message) (*queue.Message, error) {
	m, err := queue.PrepareEnqueue(msg, q.opts.Now())
	if err != nil {
		return nil, err
	}
	data, err := queue.Encode(q.opts.Codec, m)
	if err != nil {
		return nil, err
	}
	q.putMu.Lock()
	defer q.putMu.Unlock()
	_, err = q.do(ctx, "enqueue", func() (interface{}, error) {
		return q.client.XAdd(ctx, &redis.XAddArgs{
			Stream: q.logKey,
			Values: []interface{}{"id", m.ID, "data", data},
		}).Result()
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Requeue appends msg with NumRequeues incremented.
func (q *Queue) Requeue(ctx context.Context, msg *queue.Message) error {
	return q.requeue(ctx, msg, false)
}

// RequeueSilent appends msg unchanged.
func (q *Queue) RequeueSilent(ctx context.Context, msg *queue.Message) error {
	return q.requeue(ctx, msg, true)
}

func (q *Queue) requeue(ctx context.Context, msg *queue.Message, silent bool) error {
	m, err := queue.PrepareRequeue(msg, q.opts.Now(), silent)
	if err != nil {
		return err
	}
	data, err := queue.Encode(q.opts.Codec, m)
	if err != nil {
		return err
	}
	drop := "1"
	if q.opts.EphemeralDisabled {
		drop = "0"
	}
	q.putMu.Lock()
	defer q.putMu.Unlock()
	_, err = q.do(ctx, "requeue", func() (interface{}, error) {
		return requeueScript.Run(ctx, q.client, []string{q.logKey, q.ephemeralKey}, m.ID, data, drop).Result()
	})
	return err
}

// Take moves the head of the stream into the ephemeral hash.
func (q *Queue) Take(ctx context.Context) (*queue.Message, error) {
	enabled := "1"
	if q.opts.EphemeralDisabled {
		enabled = "0"
	}
	q.takeMu.Lock()
	defer q.takeMu.Unlock()

	v, err := q.do(ctx, "take", func() (interface{}, error) {
		return takeScript.Run(ctx, q.client,
			[]string{q.logKey, q.ephemeralKey, q.cursorKey},
			q.opts.EphemeralMaxSize, enabled).Slice()
	})
	if err != nil {
		return nil, err
	}
	res, _ := v.([]interface{})
	if len(res) == 0 {
		return nil, queue.StorageError("take", errors.New("empty script reply"))
	}
	switch status, _ := res[0].(int64); status {
	case -1:
		return nil, queue.CapacityError("ephemeral hash", q.opts.EphemeralMaxSize)
	case 0:
		return nil, nil
	}
	if len(res) < 4 {
		return nil, queue.StorageError("take", fmt.Errorf("unexpected script reply %v", res))
	}
	data, _ := res[3].(string)
	m, err := queue.Decode(q.opts.Codec, []byte(data))
	if err != nil {
		q.logger.Error("undecodable stream entry", log.Err(err), log.Any("stream_id", res[1]))
		return nil, err
	}
	return m, nil
}

// Finish deletes msg from the ephemeral hash.
func (q *Queue) Finish(ctx context.Context, msg *queue.Message) error {
	if err := queue.Validate(msg); err != nil {
		return err
	}
	if q.opts.EphemeralDisabled || msg.ID == "" {
		return nil
	}
	_, err := q.do(ctx, "finish", func() (interface{}, error) {
		return q.client.HDel(ctx, q.ephemeralKey, msg.ID).Result()
	})
	return err
}

// OrphanScan walks the ephemeral hash with HSCAN.
func (q *Queue) OrphanScan(ctx context.Context, threshold time.Duration) ([]*queue.Message, error) {
	if threshold < 0 {
		return nil, queue.InvalidArgument("negative orphan threshold")
	}
	if q.opts.EphemeralDisabled {
		return nil, nil
	}
	q.scanMu.Lock()
	defer q.scanMu.Unlock()

	now := q.opts.Now()
	var (
		out    []*queue.Message
		cursor uint64
		seen   = make(map[string]struct{})
	)
	for {
		var kvs []string
		_, err := q.do(ctx, "orphan scan", func() (interface{}, error) {
			var err error
			kvs, cursor, err = q.client.HScan(ctx, q.ephemeralKey, cursor, "", 256).Result()
			return nil, err
		})
		if err != nil {
			return nil, err
		}
		if out, err = q.collectOrphans(out, seen, kvs, now, threshold); err != nil {
			return nil, err
		}
		if cursor == 0 {
			return out, nil
		}
	}
}

// collectOrphans appends the orphans among one HSCAN page of field/value
// pairs. HSCAN may return a field more than once while the hash rehashes, so
// fields already in seen are skipped.
func (q *Queue) collectOrphans(out []*queue.Message, seen map[string]struct{}, kvs []string, now time.Time, threshold time.Duration) ([]*queue.Message, error) {
	for i := 1; i < len(kvs); i += 2 {
		field := kvs[i-1]
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		m, err := queue.Decode(q.opts.Codec, []byte(kvs[i]))
		if err != nil {
			return nil, err
		}
		if queue.IsOrphan(m, now, threshold) {
			out = append(out, m)
		}
	}
	return out, nil
}

// QueueSize returns XLEN of the stream.
func (q *Queue) QueueSize(ctx context.Context) (int, error) {
	return q.length(ctx, "queue size", func() (int64, error) {
		return q.client.XLen(ctx, q.logKey).Result()
	})
}

// EphemeralSize returns HLEN of the ephemeral hash.
func (q *Queue) EphemeralSize(ctx context.Context) (int, error) {
	if q.opts.EphemeralDisabled {
		return 0, nil
	}
	return q.length(ctx, "ephemeral size", func() (int64, error) {
		return q.client.HLen(ctx, q.ephemeralKey).Result()
	})
}

func (q *Queue) length(ctx context.Context, op string, fn func() (int64, error)) (int, error) {
	v, err := q.do(ctx, op, func() (interface{}, error) { return fn() })
	if err != nil {
		return 0, err
	}
	n, _ := v.(int64)
	return int(n), nil
}

// Cursor returns the stream id of the last taken entry, or "" if none.
func (q *Queue) Cursor(ctx context.Context) (string, error) {
	v, err := q.do(ctx, "cursor", func() (interface{}, error) {
		return q.client.Get(ctx, q.cursorKey).Result()
	})
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// Ping checks the connection.
func (q *Queue) Ping(ctx context.Context) error {
	_, err := q.do(ctx, "ping", func() (interface{}, error) {
		return q.client.Ping(ctx).Result()
	})
	return err
}

// BreakerState reports the circuit breaker state.
func (q *Queue) BreakerState() gobreaker.State { return q.cb.State() }

// Close closes the client when the queue created it.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		if q.ownsClient {
			q.closeErr = q.client.Close()
		}
	})
	return q.closeErr
}
