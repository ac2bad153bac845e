package metrics

import (
	"time"

	pebblestore "github.com/rzbill/durq/internal/storage/pebble"
)

// StorageHook returns a pebble metrics hook feeding the storage collectors.
func (m *Metrics) StorageHook() pebblestore.MetricsHook {
	return storageHook{m: m}
}

type storageHook struct{ m *Metrics }

func (h storageHook) ObserveWrite(_ time.Duration, bytes int) {
	h.m.WriteBytes.WithLabelValues(h.m.queue).Add(float64(bytes))
}

func (h storageHook) ObserveRead(_ time.Duration, bytes int) {
	h.m.ReadBytes.WithLabelValues(h.m.queue).Add(float64(bytes))
}

func (h storageHook) ObserveBatchCommit(d time.Duration, _ int, _ int) {
	h.m.CommitSeconds.WithLabelValues(h.m.queue).Observe(d.Seconds())
}
