package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// fetchesTotal counts source fetches.
	// Labels: result (success, not_found, error)
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entitygraph",
		Subsystem: "cache",
		Name:      "fetches_total",
		Help:      "Total entity fetches issued to the source",
	}, []string{"result"})

	hitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "entitygraph",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total lookups answered from the cache",
	})

	// evictionsTotal counts removed entries.
	// Labels: reason (lru, ttl, invalidate)
	evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entitygraph",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Total cache entries removed",
	}, []string{"reason"})

	inflightFetches = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "entitygraph",
		Subsystem: "cache",
		Name:      "inflight_fetches",
		Help:      "Entity fetches currently waiting on the source",
	})
)
