package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations (warehouse or transport issues).
	OutcomeError = "error"

	// CacheHit and CacheMiss label cache lookups.
	CacheHit  = "hit"
	CacheMiss = "miss"
)

var (
	categoryRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authlens",
			Name:      "category_requests_total",
			Help:      "Analytics category computations, partitioned by category and outcome.",
		},
		[]string{"category", "outcome"},
	)

	categoryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "authlens",
			Name:      "category_seconds",
			Help:      "Analytics category latency in seconds, including every constituent query.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"category"},
	)

	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "authlens",
			Name:      "query_seconds",
			Help:      "Warehouse query latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
		},
		[]string{"query", "outcome"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authlens",
			Name:      "cache_lookups_total",
			Help:      "Category cache lookups, partitioned by result.",
		},
		[]string{"result"},
	)

	actionsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authlens",
			Name:      "actions_published_total",
			Help:      "Automated prescriptive actions published, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	pollCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authlens",
			Name:      "poll_cycles_total",
			Help:      "Dashboard poll cycles, partitioned by whether they were applied or discarded.",
		},
		[]string{"outcome"},
	)
)

// Register attaches authlens collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		categoryRequestsTotal,
		categoryDurationSeconds,
		queryDurationSeconds,
		cacheLookupsTotal,
		actionsPublishedTotal,
		pollCyclesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCategory records a category computation duration and outcome label.
func ObserveCategory(category string, duration time.Duration, outcome string) {
	categoryRequestsTotal.WithLabelValues(category, normalise(outcome)).Inc()
	categoryDurationSeconds.WithLabelValues(category).Observe(seconds(duration))
}

// ObserveQuery records a single warehouse query.
func ObserveQuery(query string, duration time.Duration, outcome string) {
	queryDurationSeconds.WithLabelValues(query, normalise(outcome)).Observe(seconds(duration))
}

// ObserveCacheLookup counts a category cache hit or miss.
func ObserveCacheLookup(result string) {
	if result != CacheHit {
		result = CacheMiss
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveActionPublished counts an automated action publish attempt.
func ObserveActionPublished(outcome string) {
	actionsPublishedTotal.WithLabelValues(normalise(outcome)).Inc()
}

// ObservePollCycle counts a poll cycle as "applied" or "discarded".
func ObservePollCycle(outcome string) {
	pollCyclesTotal.WithLabelValues(outcome).Inc()
}

func normalise(outcome string) string {
	if outcome != OutcomeError {
		return OutcomeSuccess
	}
	return outcome
}

func seconds(d time.Duration) float64 {
	if d < 0 {
		d = 0
	}
	return d.Seconds()
}
