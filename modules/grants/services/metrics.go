package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	grantsFundingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grants",
		Subsystem: "funding",
		Name:      "transitions_total",
		Help:      "Total number of committed workplan funding transitions broken down by transition.",
	}, []string{"transition"})

	grantsWriteConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grants",
		Subsystem: "write",
		Name:      "conflicts_total",
		Help:      "Total number of rejected grants writes broken down by kind.",
	}, []string{"kind"})

	grantsCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grants",
		Subsystem: "pool_cache",
		Name:      "requests_total",
		Help:      "Total number of pool summary cache lookups broken down by hit/miss.",
	}, []string{"result"})

	grantsCacheInvalidate = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grants",
		Subsystem: "pool_cache",
		Name:      "invalidate_total",
		Help:      "Total number of pool summary cache invalidations broken down by reason.",
	}, []string{"reason"})

	grantsSummaryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "grants",
		Subsystem: "pool",
		Name:      "summary_duration_seconds",
		Help:      "Time spent computing uncached pool summaries.",
		Buckets:   prometheus.DefBuckets,
	})
)

func recordTransition(transition string) {
	grantsFundingTransitions.WithLabelValues(transition).Inc()
}

func recordWriteConflict(kind string) {
	if kind == "" {
		kind = "other"
	}
	grantsWriteConflicts.WithLabelValues(kind).Inc()
}

func recordCacheRequest(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	grantsCacheRequests.WithLabelValues(result).Inc()
}

func recordCacheInvalidate(reason string) {
	if reason == "" {
		reason = "manual"
	}
	grantsCacheInvalidate.WithLabelValues(reason).Inc()
}
