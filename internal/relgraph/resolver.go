package relgraph

import (
	"context"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"entitygraph/internal/cache"
	"entitygraph/internal/domain"
)

// ErrNoRoots is returned when a resolution is requested without roots
var ErrNoRoots = errors.New("at least one root entity reference is required")

// Result is a materialized graph plus the cache's non-fatal fetch error.
// Err does not invalidate Graph: unresolved references are simply absent.
type Result struct {
	Graph   *domain.Graph
	Err     error
	Loading bool
}

// Resolver drives a cache to the fixed point of ExpectedRefs and then
// materializes the graph.
type Resolver struct {
	cache  *cache.Cache
	logger logrus.FieldLogger
}

// NewResolver creates a resolver over c
func NewResolver(c *cache.Cache, logger logrus.FieldLogger) *Resolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Resolver{cache: c, logger: logger}
}

// Resolve expands from roots until the expected reference set stops
// changing, waiting for the cache's fetches after each expansion.
//
// Fetch failures do not fail the resolution; they are reported in
// Result.Err. An error is returned only when roots is empty or ctx ends.
func (r *Resolver) Resolve(ctx context.Context, roots []string, opts Options) (*Result, error) {
	roots = canonicalRoots(roots)
	if len(roots) == 0 {
		return nil, ErrNoRoots
	}

	start := time.Now()
	var previous mapset.Set[string]
	rounds := 0
	for {
		rounds++
		expected := ExpectedRefs(roots, r.cache.Entities(), opts)
		r.cache.RequestEntities(ctx, expected)
		if err := r.cache.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "resolve graph")
		}

		current := mapset.NewThreadUnsafeSet(expected...)
		if previous != nil && current.Equal(previous) {
			break
		}
		previous = current
	}

	graph := Materialize(roots, r.cache.Entities(), opts)
	recordResolve(time.Since(start), rounds, graph)

	result := &Result{Graph: graph, Err: r.cache.Err()}
	r.logger.WithFields(logrus.Fields{
		"roots":  roots,
		"rounds": rounds,
		"nodes":  len(graph.Nodes),
		"edges":  len(graph.Edges),
	}).Debug("Resolved entity graph")
	if result.Err != nil {
		r.logger.WithError(result.Err).Warn("Entity graph resolved with unresolved references")
	}
	return result, nil
}
