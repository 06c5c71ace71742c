package relgraph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"entitygraph/internal/domain"
)

var (
	resolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "entitygraph",
		Subsystem: "relgraph",
		Name:      "resolve_duration_seconds",
		Help:      "Time to resolve an entity graph to its fixed point",
		Buckets:   prometheus.DefBuckets,
	})

	resolveRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "entitygraph",
		Subsystem: "relgraph",
		Name:      "resolve_rounds",
		Help:      "Expansion rounds needed to reach the fixed point",
		Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16, 32},
	})

	graphNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "entitygraph",
		Subsystem: "relgraph",
		Name:      "graph_nodes",
		Help:      "Nodes per materialized graph",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	// sessionEmits counts graphs delivered by sessions after debouncing
	sessionEmits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "entitygraph",
		Subsystem: "relgraph",
		Name:      "session_emits_total",
		Help:      "Graphs delivered by watch sessions",
	})
)

func recordResolve(d time.Duration, rounds int, g *domain.Graph) {
	resolveDuration.Observe(d.Seconds())
	resolveRounds.Observe(float64(rounds))
	graphNodes.Observe(float64(len(g.Nodes)))
}
