// Package relgraph builds entity relation graphs.
//
// Building a graph is iterative. ExpectedRefs walks outward from the roots
// over the entities fetched so far and returns every reference within the
// depth limit. Those references are requested from a cache.Cache; when new
// entities arrive their relations extend the walk, until the expected set
// stops growing. Materialize then turns the visible entities into nodes and
// edges.
//
// Resolver runs that loop synchronously for a single answer. Session runs it
// against cache notifications and debounces materialization, for callers that
// stream partial graphs while entities load.
package relgraph
