package kotori

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides low-cardinality Prometheus metrics for the kotori archive
// core: dispatcher/actor pool sizing, open-file quota pressure, archive
// mutation outcomes, and ingestion/cover-extraction throughput.
//
// No metric is labeled by archive path, book title, or any other
// high-cardinality value.
type Metrics struct {
	actorPoolSize    prometheus.Gauge
	dispatcherRoutes prometheus.Gauge

	filePermitWaitDuration prometheus.Histogram
	filePermitInUse        prometheus.Gauge

	zipIntegrityPassed prometheus.Counter
	zipIntegrityFailed prometheus.Counter

	mutationsTotal   *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec

	booksAddedTotal   prometheus.Counter
	booksSkippedTotal prometheus.Counter
	ingestDuration    prometheus.Histogram

	coverExtractDuration prometheus.Histogram
	coverExtractFailures prometheus.Counter
}

// NewMetrics constructs and registers the core's metrics against reg. A nil
// Registerer falls back to prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		actorPoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kotori",
			Subsystem: "archive",
			Name:      "actor_pool_size",
			Help:      "Current number of live ArchiveActor workers.",
		}),
		dispatcherRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kotori",
			Subsystem: "archive",
			Name:      "dispatcher_routes",
			Help:      "Current number of entries in the dispatcher's archive-to-actor routing table.",
		}),

		filePermitWaitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kotori",
			Subsystem: "archive",
			Name:      "file_permit_wait_duration_seconds",
			Help:      "Time spent waiting to acquire a file-open permit from the global quota.",
			Buckets:   prometheus.DefBuckets,
		}),
		filePermitInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kotori",
			Subsystem: "archive",
			Name:      "file_permits_in_use",
			Help:      "Current number of file-open permits held against MAX_OPEN.",
		}),

		zipIntegrityPassed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kotori",
			Subsystem: "archive",
			Name:      "zip_integrity_passed_total",
			Help:      "Total number of archives that passed structural integrity checks.",
		}),
		zipIntegrityFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kotori",
			Subsystem: "archive",
			Name:      "zip_integrity_failed_total",
			Help:      "Total number of archives that failed structural integrity checks.",
		}),

		mutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kotori",
			Subsystem: "mutation",
			Name:      "operations_total",
			Help:      "Total number of archive rewrite operations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		mutationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kotori",
			Subsystem: "mutation",
			Name:      "duration_seconds",
			Help:      "Duration of archive rewrite operations by kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		booksAddedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kotori",
			Subsystem: "ingest",
			Name:      "books_added_total",
			Help:      "Total number of books newly cataloged during ingestion.",
		}),
		booksSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kotori",
			Subsystem: "ingest",
			Name:      "books_skipped_total",
			Help:      "Total number of books skipped during ingestion because they were already cataloged.",
		}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kotori",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Duration of a full library ingestion pass.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		coverExtractDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kotori",
			Subsystem: "cover",
			Name:      "extract_duration_seconds",
			Help:      "Duration of cover thumbnail extraction.",
			Buckets:   prometheus.DefBuckets,
		}),
		coverExtractFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kotori",
			Subsystem: "cover",
			Name:      "extract_failures_total",
			Help:      "Total number of cover thumbnail extraction failures.",
		}),
	}

	reg.MustRegister(
		m.actorPoolSize,
		m.dispatcherRoutes,
		m.filePermitWaitDuration,
		m.filePermitInUse,
		m.zipIntegrityPassed,
		m.zipIntegrityFailed,
		m.mutationsTotal,
		m.mutationDuration,
		m.booksAddedTotal,
		m.booksSkippedTotal,
		m.ingestDuration,
		m.coverExtractFailures,
		m.coverExtractDuration,
	)

	return m
}

func (m *Metrics) SetActorPoolSize(n int) {
	if m == nil {
		return
	}
	m.actorPoolSize.Set(float64(n))
}

func (m *Metrics) SetDispatcherRoutes(n int) {
	if m == nil {
		return
	}
	m.dispatcherRoutes.Set(float64(n))
}

func (m *Metrics) ObserveFilePermitWait(d time.Duration) {
	if m == nil {
		return
	}
	m.filePermitWaitDuration.Observe(d.Seconds())
}

func (m *Metrics) SetFilePermitsInUse(n int) {
	if m == nil {
		return
	}
	m.filePermitInUse.Set(float64(n))
}

func (m *Metrics) IncZipIntegrityPassed() {
	if m == nil {
		return
	}
	m.zipIntegrityPassed.Inc()
}

func (m *Metrics) IncZipIntegrityFailed() {
	if m == nil {
		return
	}
	m.zipIntegrityFailed.Inc()
}

// ObserveMutation records the outcome of a single archive rewrite (kind is
// e.g. "delete_page" or "set_metadata"; outcome is "ok" or "error").
func (m *Metrics) ObserveMutation(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.mutationsTotal.WithLabelValues(kind, outcome).Inc()
	m.mutationDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) IncBooksAdded() {
	if m == nil {
		return
	}
	m.booksAddedTotal.Inc()
}

func (m *Metrics) IncBooksSkipped() {
	if m == nil {
		return
	}
	m.booksSkippedTotal.Inc()
}

func (m *Metrics) ObserveIngestDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.ingestDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveCoverExtract(d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.coverExtractDuration.Observe(d.Seconds())
	if !ok {
		m.coverExtractFailures.Inc()
	}
}
