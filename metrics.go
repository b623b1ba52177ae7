package overlaycache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Skip reasons reported by listings.
const (
	skipDecode        = "decode"
	skipCorruptRecord = "corrupt_record"
	skipInconsistency = "index_inconsistency"
)

// Metrics holds the Prometheus metrics of a DB. A nil *Metrics records
// nothing.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationErrors   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	OverlaysWritten prometheus.Counter
	OverlaysRemoved prometheus.Counter

	RowsSkipped *prometheus.CounterVec
	ListingSize *prometheus.HistogramVec
}

// NewMetrics creates the metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlaycache_operations_total",
				Help: "Total number of overlay cache operations",
			},
			[]string{"operation"},
		),

		OperationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlaycache_operation_errors_total",
				Help: "Total number of failed overlay cache operations",
			},
			[]string{"operation"},
		),

		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "overlaycache_operation_duration_seconds",
				Help:    "Duration of overlay cache operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		OverlaysWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "overlaycache_overlays_written_total",
				Help: "Total number of overlay records written",
			},
		),

		OverlaysRemoved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "overlaycache_overlays_removed_total",
				Help: "Total number of overlay records removed",
			},
		),

		RowsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlaycache_rows_skipped_total",
				Help: "Total number of rows skipped by listings",
			},
			[]string{"reason"},
		),

		ListingSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "overlaycache_listing_size",
				Help:    "Number of overlays returned by listings",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"operation"},
		),
	}
}

// RecordOperation records an operation outcome and its duration.
func (m *Metrics) RecordOperation(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(op).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.OperationErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) RecordWritten(n int) {
	if m == nil || n == 0 {
		return
	}
	m.OverlaysWritten.Add(float64(n))
}

func (m *Metrics) RecordRemoved(n int) {
	if m == nil || n == 0 {
		return
	}
	m.OverlaysRemoved.Add(float64(n))
}

func (m *Metrics) RecordSkipped(reason string) {
	if m == nil {
		return
	}
	m.RowsSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordListing(op string, n int) {
	if m == nil {
		return
	}
	m.ListingSize.WithLabelValues(op).Observe(float64(n))
}
