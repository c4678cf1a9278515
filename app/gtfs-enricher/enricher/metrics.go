package enricher

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsCollector holds prometheus metrics for the enricher on its own registry
type metricsCollector struct {
	reg *prometheus.Registry

	recordsReceived prometheus.Counter
	recordsSkipped  *prometheus.CounterVec // reason label: envelope|payload|unknown_type
	tripsEnriched   prometheus.Counter
	tripsDropped    prometheus.Counter
	delayCalcErrors prometheus.Counter

	alertsPublished   prometheus.Counter
	alertPublishErrs  prometheus.Counter
	sinkWrites        *prometheus.CounterVec // sink label: trips|positions|alerts
	sinkWriteErrs     *prometheus.CounterVec // sink label: trips|positions|alerts
	cacheLookups      *prometheus.CounterVec // cache label: stop_name|schedule, result label: hit|miss
	batchDuration     prometheus.Histogram
	batchSize         prometheus.Histogram
	lastBatchUnixTime prometheus.Gauge
}

// makeMetricsCollector creates and registers all enricher metrics
func makeMetricsCollector() *metricsCollector {
	reg := prometheus.NewRegistry()
	m := &metricsCollector{
		reg: reg,
		recordsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enricher_records_received_total",
			Help: "Stream records received.",
		}),
		recordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_records_skipped_total",
			Help: "Stream records skipped because they could not be decoded.",
		}, []string{"reason"}),
		tripsEnriched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enricher_trips_enriched_total",
			Help: "Trip updates enriched.",
		}),
		tripsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enricher_trips_dropped_total",
			Help: "Trip updates dropped for missing trip id or start date.",
		}),
		delayCalcErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enricher_delay_calculation_errors_total",
			Help: "Stop predictions whose delay could not be calculated from malformed schedule data.",
		}),
		alertsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enricher_delay_alerts_published_total",
			Help: "Delay alerts published.",
		}),
		alertPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enricher_delay_alert_publish_errors_total",
			Help: "Delay alerts that failed to publish.",
		}),
		sinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_sink_records_written_total",
			Help: "Records written to each sink.",
		}, []string{"sink"}),
		sinkWriteErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_sink_write_errors_total",
			Help: "Failed batch writes to each sink.",
		}, []string{"sink"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_schedule_cache_lookups_total",
			Help: "Schedule cache lookups by cache and result.",
		}, []string{"cache", "result"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "enricher_batch_duration_seconds",
			Help:    "Time to process a batch of stream records.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "enricher_batch_records",
			Help:    "Stream records per batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		lastBatchUnixTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "enricher_last_batch_timestamp_seconds",
			Help: "Unix time the last batch completed.",
		}),
	}

	reg.MustRegister(
		m.recordsReceived, m.recordsSkipped, m.tripsEnriched, m.tripsDropped, m.delayCalcErrors,
		m.alertsPublished, m.alertPublishErrs, m.sinkWrites, m.sinkWriteErrs,
		m.cacheLookups, m.batchDuration, m.batchSize, m.lastBatchUnixTime,
	)
	return m
}

func (m *metricsCollector) handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *metricsCollector) cacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *metricsCollector) observeBatch(records int, took time.Duration, finished time.Time) {
	m.batchSize.Observe(float64(records))
	m.batchDuration.Observe(took.Seconds())
	m.lastBatchUnixTime.Set(float64(finished.Unix()))
}
