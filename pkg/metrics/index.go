package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// IndexMetrics instruments the index write pipeline. A nil *IndexMetrics is
// valid and records nothing.
type IndexMetrics struct {
	QueueDepth      *prometheus.GaugeVec
	BatchSize       *prometheus.HistogramVec
	WriteDuration   *prometheus.HistogramVec
	WritesTotal     *prometheus.CounterVec
	CanceledTotal   *prometheus.CounterVec
	WriterOpens     *prometheus.CounterVec
	SnapshotOpens   *prometheus.CounterVec
	AccumulatedRuns *prometheus.CounterVec
}

func NewIndexMetrics(reg prometheus.Registerer) *IndexMetrics {
	f := promauto.With(reg)
	return &IndexMetrics{
		QueueDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_queue_depth",
				Help: "Operations waiting in the index queue.",
			},
			[]string{"index"},
		),
		BatchSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_batch_size",
				Help:    "Operations applied per queued batch.",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
			},
			[]string{"index"},
		),
		WriteDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_write_duration_seconds",
				Help:    "Time spent applying one write including the flush policy.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"index", "mode"},
		),
		WritesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_writes_total",
				Help: "Index writes by status.",
			},
			[]string{"index", "status"},
		),
		CanceledTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_canceled_operations_total",
				Help: "Queued operations canceled because an earlier batch member failed.",
			},
			[]string{"index"},
		),
		WriterOpens: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_writer_opens_total",
				Help: "Index writers opened by update mode.",
			},
			[]string{"index", "mode"},
		),
		SnapshotOpens: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_snapshot_opens_total",
				Help: "Searcher snapshots opened, by kind (open, reopen, reuse).",
			},
			[]string{"index", "kind"},
		),
		AccumulatedRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_bulk_runs_total",
				Help: "Bulk indexing runs by outcome.",
			},
			[]string{"outcome"},
		),
	}
}

func (m *IndexMetrics) ObserveWrite(index, mode string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.WriteDuration.WithLabelValues(index, mode).Observe(d.Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.WritesTotal.WithLabelValues(index, status).Inc()
}

func (m *IndexMetrics) SetQueueDepth(index string, n int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(index).Set(float64(n))
}

func (m *IndexMetrics) ObserveBatch(index string, size int) {
	if m == nil {
		return
	}
	m.BatchSize.WithLabelValues(index).Observe(float64(size))
}

func (m *IndexMetrics) AddCanceled(index string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CanceledTotal.WithLabelValues(index).Add(float64(n))
}

func (m *IndexMetrics) WriterOpened(index, mode string) {
	if m == nil {
		return
	}
	m.WriterOpens.WithLabelValues(index, mode).Inc()
}

func (m *IndexMetrics) SnapshotOpened(index, kind string) {
	if m == nil {
		return
	}
	m.SnapshotOpens.WithLabelValues(index, kind).Inc()
}

func (m *IndexMetrics) BulkRun(outcome string) {
	if m == nil {
		return
	}
	m.AccumulatedRuns.WithLabelValues(outcome).Inc()
}
