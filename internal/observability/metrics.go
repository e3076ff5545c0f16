// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Ingestion metrics
	TransactionsIngested prometheus.Counter
	TransactionsRejected *prometheus.CounterVec
	QueueDepth           prometheus.Gauge
	LastEventTime        prometheus.Gauge

	// Profile metrics
	ProfileUpdates        prometheus.Counter
	ProfileUpdateFailures prometheus.Counter
	ProfilePersistErrors  *prometheus.CounterVec
	ProfilesTracked       prometheus.Gauge

	// Classification and pattern metrics
	Classifications  *prometheus.CounterVec
	PatternsDetected *prometheus.CounterVec
	ClustersAssigned prometheus.Counter
	TokenWindows     prometheus.Gauge

	// Signal metrics
	SignalsGenerated     *prometheus.CounterVec
	SignalsPublished     prometheus.Counter
	DuplicatesSuppressed prometheus.Counter
	Deliveries           *prometheus.CounterVec
	DeliveryFailures     *prometheus.CounterVec
	DeliveriesDropped    *prometheus.CounterVec
	DeliveryLatency      *prometheus.HistogramVec

	// Activity metrics
	WhaleActivityRecorded    prometheus.Counter
	WhaleActivityFlushErrors prometheus.Counter
	WhaleActivityDropped     prometheus.Counter

	// Latency metrics
	ProcessingLatency prometheus.Histogram

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered on reg.
// A nil registerer uses the Prometheus default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "whale_engine"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Ingestion metrics
		TransactionsIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "transactions_ingested_total",
			Help:      "Total number of transactions accepted by the normalizer",
		}),
		TransactionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "transactions_rejected_total",
			Help:      "Total number of rejected raw events by kind and reason",
		}, []string{"kind", "reason"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "queue_depth",
			Help:      "Current number of normalized transactions waiting for a worker",
		}),
		LastEventTime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "last_event_block_time_ms",
			Help:      "Block time of the most recently processed transaction",
		}),

		// Profile metrics
		ProfileUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "profile",
			Name:      "updates_total",
			Help:      "Total number of successful wallet profile upserts",
		}),
		ProfileUpdateFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "profile",
			Name:      "update_failures_total",
			Help:      "Total number of transactions dropped after lock retries were exhausted",
		}),
		ProfilePersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "profile",
			Name:      "persist_errors_total",
			Help:      "Total number of profile persistence errors by operation",
		}, []string{"operation"}),
		ProfilesTracked: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "profile",
			Name:      "tracked",
			Help:      "Number of wallet profiles held in memory",
		}),

		// Classification and pattern metrics
		Classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "classifications_total",
			Help:      "Total number of classifications by reason code",
		}, []string{"reason"}),
		PatternsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pattern",
			Name:      "detected_total",
			Help:      "Total number of patterns detected by type",
		}, []string{"pattern_type"}),
		ClustersAssigned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pattern",
			Name:      "cluster_assignments_total",
			Help:      "Total number of wallet cluster assignments",
		}),
		TokenWindows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pattern",
			Name:      "token_windows",
			Help:      "Number of live per-token analysis windows",
		}),

		// Signal metrics
		SignalsGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "generated_total",
			Help:      "Total number of signals generated by pattern type",
		}, []string{"pattern_type"}),
		SignalsPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "published_total",
			Help:      "Total number of distinct signals published",
		}),
		DuplicatesSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "duplicate_suppressed_total",
			Help:      "Total number of signals dropped as duplicates within the dedup horizon",
		}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "deliveries_total",
			Help:      "Total number of successful deliveries by consumer",
		}, []string{"consumer"}),
		DeliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "delivery_failures_total",
			Help:      "Total number of deliveries that exhausted retries by consumer",
		}, []string{"consumer"}),
		DeliveriesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "deliveries_dropped_total",
			Help:      "Total number of deliveries dropped on a full consumer queue",
		}, []string{"consumer"}),
		DeliveryLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "delivery_latency_seconds",
			Help:      "Delivery latency including retries in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"consumer"}),

		// Activity metrics
		WhaleActivityRecorded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activity",
			Name:      "recorded_total",
			Help:      "Total number of whale activity records persisted",
		}),
		WhaleActivityFlushErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activity",
			Name:      "flush_errors_total",
			Help:      "Total number of failed whale activity batch writes",
		}),
		WhaleActivityDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activity",
			Name:      "dropped_total",
			Help:      "Total number of whale activity records dropped on a full buffer",
		}),

		// Latency metrics
		ProcessingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "processing_latency_seconds",
			Help:      "Per-transaction classification and analysis latency in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// OrDefault returns m, or DefaultMetrics when m is nil.
func OrDefault(m *Metrics) *Metrics {
	if m == nil {
		return DefaultMetrics
	}
	return m
}

// RecordRejection records a normalizer rejection.
func (m *Metrics) RecordRejection(kind, reason string) {
	m.TransactionsRejected.WithLabelValues(kind, reason).Inc()
}

// RecordClassification records a classifier outcome.
func (m *Metrics) RecordClassification(reason string) {
	m.Classifications.WithLabelValues(reason).Inc()
}

// RecordPattern records a detected pattern.
func (m *Metrics) RecordPattern(patternType string) {
	m.PatternsDetected.WithLabelValues(patternType).Inc()
}

// RecordSignal records a generated signal.
func (m *Metrics) RecordSignal(patternType string) {
	m.SignalsGenerated.WithLabelValues(patternType).Inc()
}

// RecordDelivery records a delivery outcome for a consumer.
func (m *Metrics) RecordDelivery(consumer string, seconds float64, err error) {
	m.DeliveryLatency.WithLabelValues(consumer).Observe(seconds)
	if err != nil {
		m.DeliveryFailures.WithLabelValues(consumer).Inc()
		return
	}
	m.Deliveries.WithLabelValues(consumer).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
