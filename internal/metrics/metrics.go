package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records cache lookup calls.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records cache store attempts.
	CacheOperationStore CacheOperation = "store"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates the lookup returned an unexpired payload.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no live payload was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupError indicates the lookup failed and was treated as a miss.
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a cache store attempt.
type CacheStoreOutcome string

const (
	// CacheStoreStored indicates the entry was persisted.
	CacheStoreStored CacheStoreOutcome = "stored"
	// CacheStoreError indicates the store operation failed.
	CacheStoreError CacheStoreOutcome = "error"
)

// Recorder publishes Prometheus metrics for sources, caches, and batches.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	sourceRequests *prometheus.CounterVec
	sourceLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	batchItems *prometheus.CounterVec
	batchRuns  *prometheus.CounterVec
	backlog    prometheus.Gauge
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	sourceRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "domainscout",
		Subsystem: "source",
		Name:      "requests_total",
		Help:      "External source requests by outcome.",
	}, []string{"source", "outcome"})

	sourceLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "domainscout",
		Subsystem: "source",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for external source requests.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"source", "outcome"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "domainscout",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache operations by family, tier, and result.",
	}, []string{"family", "tier", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "domainscout",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"family", "tier", "operation", "result"})

	batchItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "domainscout",
		Subsystem: "batch",
		Name:      "items_total",
		Help:      "Batch items by per-item status.",
	}, []string{"status"})

	batchRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "domainscout",
		Subsystem: "batch",
		Name:      "runs_total",
		Help:      "Batch invocations by terminal state.",
	}, []string{"state"})

	backlog := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "domainscout",
		Name:      "backlog_pending",
		Help:      "Opportunities still pending analysis after the last batch.",
	})

	reg.MustRegister(sourceRequests, sourceLatency, cacheOperations, cacheLatency, batchItems, batchRuns, backlog)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:        reg,
		handler:         handler,
		sourceRequests:  sourceRequests,
		sourceLatency:   sourceLatency,
		cacheOperations: cacheOperations,
		cacheLatency:    cacheLatency,
		batchItems:      batchItems,
		batchRuns:       batchRuns,
		backlog:         backlog,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveSource records one external request and its latency. Outcome is
// "ok" or a failure kind such as "transport" or "rate_limited".
func (r *Recorder) ObserveSource(source, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	sourceLabel := normalizeLabel(source)
	outcomeLabel := normalizeLabel(outcome)
	r.sourceRequests.WithLabelValues(sourceLabel, outcomeLabel).Inc()
	r.sourceLatency.WithLabelValues(sourceLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a cache lookup.
func (r *Recorder) ObserveCacheLookup(family, tier string, result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeCache(family, tier, CacheOperationLookup, resultLabel, duration)
}

// ObserveCacheStore records the result of a cache store attempt.
func (r *Recorder) ObserveCacheStore(family, tier string, result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreError)
	}
	r.observeCache(family, tier, CacheOperationStore, resultLabel, duration)
}

// ObserveBatchItem counts one processed batch item by status.
func (r *Recorder) ObserveBatchItem(status string) {
	if r == nil {
		return
	}
	r.batchItems.WithLabelValues(normalizeLabel(status)).Inc()
}

// ObserveBatchRun counts a finished batch and publishes the remaining backlog.
func (r *Recorder) ObserveBatchRun(state string, remaining int) {
	if r == nil {
		return
	}
	r.batchRuns.WithLabelValues(normalizeLabel(state)).Inc()
	if remaining >= 0 {
		r.backlog.Set(float64(remaining))
	}
}

func (r *Recorder) observeCache(family, tier string, operation CacheOperation, result string, duration time.Duration) {
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	labels := []string{normalizeLabel(family), normalizeLabel(tier), opLabel, normalizeLabel(result)}
	r.cacheOperations.WithLabelValues(labels...).Inc()
	r.cacheLatency.WithLabelValues(labels...).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
