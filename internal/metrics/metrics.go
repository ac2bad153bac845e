// Package metrics exports queue activity to Prometheus.
package metrics

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rzbill/durq/pkg/queue"
)

// Metrics holds the collectors of one queue.
type Metrics struct {
	queue string
	reg   prometheus.Registerer

	Operations       *prometheus.CounterVec
	OperationSeconds *prometheus.HistogramVec
	CommitSeconds    *prometheus.HistogramVec
	ReadBytes        *prometheus.CounterVec
	WriteBytes       *prometheus.CounterVec
	OrphansRequeued  *prometheus.CounterVec
}

// New creates the collectors for queueName and registers them with reg.
func New(reg prometheus.Registerer, queueName string) (*Metrics, error) {
	m := &Metrics{
		queue: queueName,
		reg:   reg,
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "durq_operations_total",
				Help: "Queue operations by outcome",
			},
			[]string{"queue", "op", "result"},
		),
		OperationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "durq_operation_seconds",
				Help:    "Latency of queue operations",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"queue", "op"},
		),
		CommitSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "durq_storage_commit_seconds",
				Help:    "Latency of storage batch commits",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"queue"},
		),
		ReadBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "durq_storage_read_bytes_total",
				Help: "Bytes read from storage by point lookups",
			},
			[]string{"queue"},
		),
		WriteBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "durq_storage_write_bytes_total",
				Help: "Bytes written to storage by queue batches",
			},
			[]string{"queue"},
		),
		OrphansRequeued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "durq_orphans_requeued_total",
				Help: "Orphaned messages returned to the queue by recovery sweeps",
			},
			[]string{"queue"},
		),
	}
	for _, c := range []prometheus.Collector{m.Operations, m.OperationSeconds, m.CommitSeconds, m.ReadBytes, m.WriteBytes, m.OrphansRequeued} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Queue returns the queue label.
func (m *Metrics) Queue() string { return m.queue }

// ObserveSweep records the outcome of a recovery sweep. Its signature
// matches recovery.Config.OnSweep.
func (m *Metrics) ObserveSweep(requeued int, err error) {
	m.OrphansRequeued.WithLabelValues(m.queue).Add(float64(requeued))
	m.Operations.WithLabelValues(m.queue, "orphan_sweep", Result(err)).Inc()
}

// RegisterSizes exports the queue and ephemeral sizes of q as gauges that
// are read on every scrape.
func (m *Metrics) RegisterSizes(q queue.Queue) error {
	size := func(fn func(context.Context) (int, error)) func() float64 {
		return func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := fn(ctx)
			if err != nil {
				return math.NaN()
			}
			return float64(n)
		}
	}
	labels := prometheus.Labels{"queue": m.queue}
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "durq_queue_size",
			Help:        "Messages waiting to be taken",
			ConstLabels: labels,
		}, size(q.QueueSize)),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "durq_ephemeral_size",
			Help:        "Messages taken but not yet finished",
			ConstLabels: labels,
		}, size(q.EphemeralSize)),
	}
	for _, g := range gauges {
		if err := m.reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}

// Result classifies err into a label value.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, queue.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, queue.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, queue.ErrSerialization):
		return "serialization_failure"
	case errors.Is(err, queue.ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
