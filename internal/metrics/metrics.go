// Package metrics holds the Prometheus instruments of the indexer. Every method
// is safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "indexer"

// Live log outcomes
const (
	OutcomeInserted  = "inserted"
	OutcomeDuplicate = "duplicate"
	OutcomeStored    = "stored"
	OutcomeMalformed = "malformed"
	OutcomeError     = "error"
	OutcomeRemoved   = "removed"
	OutcomeLostRace  = "lost_race"
)

// Metrics holds all Prometheus metrics of the indexer
type Metrics struct {
	// Backfill
	BackfillBatchesTotal  *prometheus.CounterVec
	BackfillRecordsTotal  prometheus.Counter
	BackfillBatchDuration prometheus.Histogram
	BackfillPassesTotal   *prometheus.CounterVec
	LogQueriesTotal       *prometheus.CounterVec
	MalformedLogsTotal    *prometheus.CounterVec

	// Live watcher
	LiveLogsTotal *prometheus.CounterVec
	HighWaterMark prometheus.Gauge
	Resubscribes  prometheus.Counter

	// View and bus
	ViewSize          prometheus.Gauge
	BusPublishedTotal prometheus.Counter
	BusDroppedTotal   prometheus.Counter
	BusSubscribers    prometheus.Gauge

	// Sinks
	SinkPublishesTotal *prometheus.CounterVec
	SinkPublishLatency *prometheus.HistogramVec
}

// New creates and registers all metrics on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		BackfillBatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "batches_total",
			Help:      "Total number of backfill batches by status",
		}, []string{"status"}),
		BackfillRecordsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "records_total",
			Help:      "Total number of records normalized by backfill",
		}),
		BackfillBatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "batch_duration_seconds",
			Help:      "Duration of a backfill batch in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		BackfillPassesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "passes_total",
			Help:      "Total number of backfill passes by status",
		}, []string{"status"}),
		LogQueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "log_queries_total",
			Help:      "Total number of log range queries by event and status",
		}, []string{"event", "status"}),
		MalformedLogsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_logs_total",
			Help:      "Total number of logs dropped as malformed by ingestion path",
		}, []string{"source"}),

		LiveLogsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "logs_total",
			Help:      "Total number of live logs by outcome",
		}, []string{"outcome"}),
		HighWaterMark: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "high_water_mark",
			Help:      "Highest block number ingested",
		}),
		Resubscribes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "subscriptions_total",
			Help:      "Total number of log subscriptions established",
		}),

		ViewSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "records",
			Help:      "Number of records in the published view",
		}),
		BusPublishedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Total number of records published on the bus",
		}),
		BusDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "dropped_total",
			Help:      "Total number of deliveries dropped due to full channels",
		}),
		BusSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "subscribers",
			Help:      "Current number of bus subscribers",
		}),

		SinkPublishesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "publishes_total",
			Help:      "Total number of sink publishes by sink and status",
		}, []string{"sink", "status"}),
		SinkPublishLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "publish_duration_seconds",
			Help:      "Sink publish latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sink"}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordBackfillBatch records one completed backfill batch
func (m *Metrics) RecordBackfillBatch(d time.Duration, records int, err error) {
	if m == nil {
		return
	}
	m.BackfillBatchesTotal.WithLabelValues(status(err)).Inc()
	m.BackfillBatchDuration.Observe(d.Seconds())
	m.BackfillRecordsTotal.Add(float64(records))
}

// RecordBackfillPass records the outcome of a full backfill pass
func (m *Metrics) RecordBackfillPass(err error) {
	if m == nil {
		return
	}
	m.BackfillPassesTotal.WithLabelValues(status(err)).Inc()
}

// RecordLogQuery records a range query for one event kind
func (m *Metrics) RecordLogQuery(event string, err error) {
	if m == nil {
		return
	}
	m.LogQueriesTotal.WithLabelValues(event, status(err)).Inc()
}

// RecordMalformed records a log dropped as malformed
func (m *Metrics) RecordMalformed(source string) {
	if m == nil {
		return
	}
	m.MalformedLogsTotal.WithLabelValues(source).Inc()
}

// RecordLiveOutcome records how a live log was handled
func (m *Metrics) RecordLiveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.LiveLogsTotal.WithLabelValues(outcome).Inc()
}

// RecordSubscription records an established log subscription
func (m *Metrics) RecordSubscription() {
	if m == nil {
		return
	}
	m.Resubscribes.Inc()
}

// SetHighWaterMark updates the high-water mark gauge
func (m *Metrics) SetHighWaterMark(block uint64) {
	if m == nil {
		return
	}
	m.HighWaterMark.Set(float64(block))
}

// SetViewSize updates the view size gauge
func (m *Metrics) SetViewSize(n int) {
	if m == nil {
		return
	}
	m.ViewSize.Set(float64(n))
}

// RecordBusPublished records a record accepted by the bus
func (m *Metrics) RecordBusPublished() {
	if m == nil {
		return
	}
	m.BusPublishedTotal.Inc()
}

// RecordBusDropped records a delivery dropped by the bus
func (m *Metrics) RecordBusDropped() {
	if m == nil {
		return
	}
	m.BusDroppedTotal.Inc()
}

// SetBusSubscribers updates the bus subscriber gauge
func (m *Metrics) SetBusSubscribers(n int) {
	if m == nil {
		return
	}
	m.BusSubscribers.Set(float64(n))
}

// RecordSinkPublish records one publish to a sink
func (m *Metrics) RecordSinkPublish(sink string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.SinkPublishesTotal.WithLabelValues(sink, status(err)).Inc()
	m.SinkPublishLatency.WithLabelValues(sink).Observe(d.Seconds())
}
