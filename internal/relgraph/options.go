package relgraph

import (
	"math"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"entitygraph/internal/domain"
)

// InfiniteDepth disables the depth limit
const InfiniteDepth = math.MaxInt

// DefaultDebounce is the quiet period before a Session materializes a graph
const DefaultDebounce = 100 * time.Millisecond

// Options configures graph traversal and edge rendering
type Options struct {
	// MaxDepth is the maximum number of relation hops from any root.
	// Zero only requests the roots; negative values mean InfiniteDepth.
	MaxDepth int

	// RelationTypes restricts followed relations. Nil follows all.
	RelationTypes mapset.Set[string]

	// Kinds restricts followed relations by target kind (case-insensitive).
	// Nil follows all.
	Kinds mapset.Set[string]

	// Unidirectional suppresses edges into nodes already visited during the
	// edge pass.
	Unidirectional bool

	// MergeRelations renders a relation and its inverse as one edge oriented
	// along the pair's forward type.
	MergeRelations bool

	RelationPairs []domain.RelationPair

	// EntityFilter, when set, stops expansion from entities it rejects
	EntityFilter func(*domain.Entity) bool
}

// DefaultOptions follows everything to any depth with merged, unidirectional
// edges
func DefaultOptions() Options {
	return Options{
		MaxDepth:       InfiniteDepth,
		Unidirectional: true,
		MergeRelations: true,
		RelationPairs:  domain.DefaultRelationPairs(),
	}
}

// WithRelationTypes returns a copy of o following only the given types
func (o Options) WithRelationTypes(types ...string) Options {
	if len(types) == 0 {
		o.RelationTypes = nil
		return o
	}
	o.RelationTypes = mapset.NewThreadUnsafeSet(types...)
	return o
}

// WithKinds returns a copy of o following only relations into the given kinds
func (o Options) WithKinds(kinds ...string) Options {
	if len(kinds) == 0 {
		o.Kinds = nil
		return o
	}
	set := mapset.NewThreadUnsafeSet[string]()
	for _, k := range kinds {
		set.Add(strings.ToLower(k))
	}
	o.Kinds = set
	return o
}

func (o Options) depthLimit() int {
	if o.MaxDepth < 0 {
		return InfiniteDepth
	}
	return o.MaxDepth
}

// follows reports whether a relation passes the type and kind filters.
// target is a canonical reference.
func (o Options) follows(rel domain.Relation, target string) bool {
	if o.RelationTypes != nil && !o.RelationTypes.Contains(rel.Type) {
		return false
	}
	if o.Kinds != nil && !containsKind(o.Kinds, domain.RefKind(target)) {
		return false
	}
	return true
}

// containsKind matches kind against kinds ignoring case, so sets built
// without WithKinds behave the same
func containsKind(kinds mapset.Set[string], kind string) bool {
	if kinds.Contains(kind) {
		return true
	}
	found := false
	kinds.Each(func(k string) bool {
		found = strings.EqualFold(k, kind)
		return found
	})
	return found
}

func (o Options) expands(entity *domain.Entity) bool {
	return o.EntityFilter == nil || o.EntityFilter(entity)
}
