package relgraph

import (
	mapset "github.com/deckarep/golang-set/v2"

	"entitygraph/internal/domain"
)

// canonicalRoots normalizes and deduplicates roots, keeping first-seen order
func canonicalRoots(roots []string) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		ref := domain.CanonicalRef(r)
		if ref == "" || !seen.Add(ref) {
			continue
		}
		out = append(out, ref)
	}
	return out
}

// ExpectedRefs computes the references needed to render the graph rooted at
// roots, given the entities fetched so far.
//
// The traversal is breadth first, one layer per relation hop, and stops after
// opts.MaxDepth layers. Entities that have not been fetched yet contribute no
// relations, so the result grows as the caller feeds newly fetched entities
// back in; it reaches a fixed point once every reachable entity within the
// depth limit has been fetched or has failed.
//
// Roots are always part of the result, first, in the order given.
func ExpectedRefs(roots []string, entities map[string]*domain.Entity, opts Options) []string {
	roots = canonicalRoots(roots)

	expected := mapset.NewThreadUnsafeSet(roots...)
	order := append([]string(nil), roots...)
	processed := mapset.NewThreadUnsafeSet[string]()

	frontier := append([]string(nil), roots...)
	limit := opts.depthLimit()
	for depth := 0; len(frontier) > 0 && depth < limit; depth++ {
		var next []string
		for _, ref := range frontier {
			processed.Add(ref)

			entity := entities[ref]
			if entity == nil || !opts.expands(entity) {
				continue
			}
			for _, rel := range entity.Relations {
				target := domain.CanonicalRef(rel.TargetRef)
				if !opts.follows(rel, target) || processed.Contains(target) {
					continue
				}
				// queued in this or an earlier layer
				if expected.Contains(target) {
					continue
				}
				expected.Add(target)
				order = append(order, target)
				next = append(next, target)
			}
		}
		frontier = next
	}

	return order
}
