// Package metrics holds the Prometheus collectors shared by the client-side
// mutation layer and the REST backend.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "storyline"

// Mutation outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mutation",
			Name:      "total",
			Help:      "Mutations by name and outcome",
		},
		[]string{"mutation", "outcome"},
	)

	mutationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mutation",
			Name:      "duration_seconds",
			Help:      "Time from invoke to settle",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mutation"},
	)

	cacheRefetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "refetches_total",
			Help:      "Refetches triggered by invalidation",
		},
		[]string{"kind", "outcome"},
	)

	cacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries currently held by the query cache",
		},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Backend requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Backend request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	purgedStories = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "purged_stories_total",
			Help:      "Soft-deleted stories removed after the retention window",
		},
	)
)

// ObserveMutation records one settled mutation.
func ObserveMutation(name, outcome string, d time.Duration) {
	mutationsTotal.WithLabelValues(name, outcome).Inc()
	mutationDuration.WithLabelValues(name).Observe(d.Seconds())
}

func IncRefetch(kind, outcome string) {
	cacheRefetches.WithLabelValues(kind, outcome).Inc()
}

func SetCacheEntries(n int) {
	cacheEntries.Set(float64(n))
}

func ObserveHTTP(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func AddPurged(n int) {
	purgedStories.Add(float64(n))
}

// Handler serves the default registry in the exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// MutationCount reads the current counter value; used by tests.
func MutationCount(name, outcome string) float64 {
	return counterValue(mutationsTotal.WithLabelValues(name, outcome))
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil || m.Counter == nil {
		return 0
	}
	return m.Counter.GetValue()
}
