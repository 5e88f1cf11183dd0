// Package metrics exposes Prometheus collectors for searches, store lookups and
// ingest runs. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gpahub"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	searches       *prometheus.CounterVec
	searchDuration prometheus.Histogram
	storeLookups   *prometheus.CounterVec
	webAPICalls    *prometheus.CounterVec
	cacheRequests  *prometheus.CounterVec

	ingestRuns     *prometheus.CounterVec
	ingestWritten  prometheus.Counter
	ingestRejected prometheus.Counter
	batchRetries   prometheus.Counter
	ingestDuration prometheus.Histogram
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	auto := promauto.With(reg)

	return &Metrics{
		registry: reg,
		searches: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Result searches by where the result was found (store, web_api, not_found).",
		}, []string{"found_in"}),
		searchDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end resolver latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		storeLookups: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_lookups_total",
			Help:      "Student lookups per store and outcome.",
		}, []string{"store", "outcome"}),
		webAPICalls: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "web_api_calls_total",
			Help:      "Web API fallback calls per API and outcome.",
		}, []string{"api", "outcome"}),
		cacheRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Result cache lookups by hit or miss.",
		}, []string{"result"}),
		ingestRuns: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_runs_total",
			Help:      "Ingest runs by result (success, failure).",
		}, []string{"result"}),
		ingestWritten: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_operations_written_total",
			Help:      "Persistence operations written by ingest runs.",
		}),
		ingestRejected: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_values_rejected_total",
			Help:      "GPA values rejected during normalization.",
		}),
		batchRetries: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_batch_retries_total",
			Help:      "Batch write attempts that were retried.",
		}),
		ingestDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Ingest run duration.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveSearch(foundIn string, d time.Duration) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(foundIn).Inc()
	m.searchDuration.Observe(d.Seconds())
}

func (m *Metrics) StoreLookup(store, outcome string) {
	if m == nil {
		return
	}
	m.storeLookups.WithLabelValues(store, outcome).Inc()
}

func (m *Metrics) WebAPICall(api, outcome string) {
	if m == nil {
		return
	}
	m.webAPICalls.WithLabelValues(api, outcome).Inc()
}

func (m *Metrics) CacheResult(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}

// ObserveIngest records one finished ingest run.
func (m *Metrics) ObserveIngest(success bool, written, rejected int, d time.Duration) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.ingestRuns.WithLabelValues(result).Inc()
	m.ingestWritten.Add(float64(written))
	m.ingestRejected.Add(float64(rejected))
	m.ingestDuration.Observe(d.Seconds())
}

func (m *Metrics) BatchRetry() {
	if m == nil {
		return
	}
	m.batchRetries.Inc()
}
