package relgraph

import (
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"entitygraph/internal/domain"
)

// Materialize builds nodes and edges from the visible entity map.
//
// Every entity in the map becomes a node; roots are focused. Edges come from
// a breadth-first walk from the roots over fetched entities: a relation is
// drawn when it passes the filters and its target is in the map. Identical
// edges are emitted once, so a relation and its inverse collapse into a
// single edge when MergeRelations is set. The walk is not depth limited; the
// map is expected to hold only what ExpectedRefs asked for.
func Materialize(roots []string, entities map[string]*domain.Entity, opts Options) *domain.Graph {
	graph := domain.NewGraph()
	if len(entities) == 0 {
		return graph
	}

	roots = canonicalRoots(roots)
	focused := mapset.NewThreadUnsafeSet(roots...)

	refs := make([]string, 0, len(entities))
	for ref := range entities {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		graph.AddNode(domain.NewGraphNode(ref, entities[ref], focused.Contains(ref)))
	}

	visited := mapset.NewThreadUnsafeSet[string]()
	emitted := mapset.NewThreadUnsafeSet[string]()
	queue := append([]string(nil), roots...)

	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		visited.Add(ref)

		entity := entities[ref]
		if entity == nil || !opts.expands(entity) {
			continue
		}

		for _, rel := range entity.Relations {
			target := domain.CanonicalRef(rel.TargetRef)
			if _, ok := entities[target]; !ok {
				continue
			}
			if !opts.follows(rel, target) {
				continue
			}

			if !opts.Unidirectional || !visited.Contains(target) {
				edge := buildEdge(ref, target, rel.Type, opts)
				if emitted.Add(edge.Key()) {
					graph.AddEdge(edge)
				}
			}

			if !visited.Contains(target) {
				visited.Add(target)
				queue = append(queue, target)
			}
		}
	}

	return graph
}

func buildEdge(from, to, relType string, opts Options) domain.GraphEdge {
	if !opts.MergeRelations {
		return domain.GraphEdge{From: from, To: to, Relations: []string{relType}}
	}

	pair, ok := domain.FindPair(opts.RelationPairs, relType)
	if !ok {
		return domain.GraphEdge{From: from, To: to, Relations: []string{relType}}
	}
	if pair.Forward != relType {
		from, to = to, from
	}
	return domain.GraphEdge{From: from, To: to, Relations: pair.Types()}
}

// Fingerprint identifies a graph by its node and edge sets, ignoring order
func Fingerprint(g *domain.Graph) string {
	if g == nil {
		return ""
	}
	parts := make([]string, 0, len(g.Nodes)+len(g.Edges))
	for _, n := range g.Nodes {
		mark := "n:"
		if n.Focused {
			mark = "f:"
		}
		parts = append(parts, mark+n.ID)
	}
	for _, e := range g.Edges {
		parts = append(parts, "e:"+e.Key())
	}
	sort.Strings(parts)
	return strings.Join(parts, "\n")
}
