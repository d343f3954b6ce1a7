// Package observability exposes Prometheus metrics for the detector. In serve
// mode the registry is mounted on /metrics; one-shot runs still record into it
// so a scrape between sweeps sees the last batch.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Stream label values.
const (
	StreamRecon = "recon"
	StreamExfil = "exfil"
)

// MetricsManager manages Prometheus metrics
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	uptime          prometheus.Gauge
	eventsIngested  *prometheus.CounterVec
	eventsMalformed *prometheus.CounterVec
	eventsDeduped   *prometheus.CounterVec
	findings        *prometheus.CounterVec
	suppressions    prometheus.Counter
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	backendRetries  prometheus.Counter
	backendFailures prometheus.Counter
	webhookDelivery *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	registry := prometheus.NewRegistry()

	mm := &MetricsManager{
		logger:   logger,
		registry: registry,
	}

	mm.initMetrics()
	mm.registerMetrics()

	return mm
}

func (mm *MetricsManager) initMetrics() {
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "exfilwatch_uptime_seconds",
		Help: "Time since the process started",
	})

	mm.eventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exfilwatch_events_ingested_total",
			Help: "Audit events accepted from the sources",
		},
		[]string{"stream"},
	)

	mm.eventsMalformed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exfilwatch_events_malformed_total",
			Help: "Audit events dropped during validation",
		},
		[]string{"stream"},
	)

	mm.eventsDeduped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exfilwatch_events_deduped_total",
			Help: "Duplicate audit events discarded by event id",
		},
		[]string{"stream"},
	)

	mm.findings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exfilwatch_findings_total",
			Help: "Findings emitted, by severity",
		},
		[]string{"severity"},
	)

	mm.suppressions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exfilwatch_suppressions_total",
		Help: "Candidate findings dropped by suppression rules",
	})

	mm.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exfilwatch_file_cache_hits_total",
		Help: "File context cache hits",
	})

	mm.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exfilwatch_file_cache_misses_total",
		Help: "File context cache misses",
	})

	mm.backendRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exfilwatch_state_backend_retries_total",
		Help: "Retried recon state backend operations",
	})

	mm.backendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exfilwatch_state_backend_failures_total",
		Help: "Recon state backend operations that failed after retries",
	})

	mm.webhookDelivery = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exfilwatch_webhook_deliveries_total",
			Help: "Webhook delivery attempts, by outcome",
		},
		[]string{"status"},
	)

	mm.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "exfilwatch_sweep_duration_seconds",
		Help:    "Time taken to run one detection sweep",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})
}

func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.eventsIngested,
		mm.eventsMalformed,
		mm.eventsDeduped,
		mm.findings,
		mm.suppressions,
		mm.cacheHits,
		mm.cacheMisses,
		mm.backendRetries,
		mm.backendFailures,
		mm.webhookDelivery,
		mm.sweepDuration,
	)

	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry for custom metrics
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// SetUptime sets the uptime metric
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// RecordIngested counts accepted events for a stream.
func (mm *MetricsManager) RecordIngested(stream string, n int) {
	mm.eventsIngested.WithLabelValues(stream).Add(float64(n))
}

// RecordMalformed counts events dropped during validation.
func (mm *MetricsManager) RecordMalformed(stream string, n int) {
	mm.eventsMalformed.WithLabelValues(stream).Add(float64(n))
}

// RecordDeduped counts duplicate events discarded.
func (mm *MetricsManager) RecordDeduped(stream string, n int) {
	mm.eventsDeduped.WithLabelValues(stream).Add(float64(n))
}

// RecordFinding counts an emitted finding.
func (mm *MetricsManager) RecordFinding(sev string) {
	mm.findings.WithLabelValues(sev).Inc()
}

// RecordSuppression counts a suppressed candidate.
func (mm *MetricsManager) RecordSuppression() {
	mm.suppressions.Inc()
}

// RecordCacheHit counts a file context cache hit.
func (mm *MetricsManager) RecordCacheHit() {
	mm.cacheHits.Inc()
}

// RecordCacheMiss counts a file context cache miss.
func (mm *MetricsManager) RecordCacheMiss() {
	mm.cacheMisses.Inc()
}

// RecordBackendRetry counts a retried state backend operation.
func (mm *MetricsManager) RecordBackendRetry() {
	mm.backendRetries.Inc()
}

// RecordBackendFailure counts a state backend operation lost after retries.
func (mm *MetricsManager) RecordBackendFailure() {
	mm.backendFailures.Inc()
}

// RecordWebhookDelivery records one webhook attempt outcome.
func (mm *MetricsManager) RecordWebhookDelivery(status string) {
	mm.webhookDelivery.WithLabelValues(status).Inc()
}

// RecordSweep records the duration of one detection sweep.
func (mm *MetricsManager) RecordSweep(duration time.Duration) {
	mm.sweepDuration.Observe(duration.Seconds())
}
