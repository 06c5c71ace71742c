package catalog

import (
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"entitygraph/internal/domain"
)

// fieldRule derives a relation from a spec field. Targets written as
// shorthand ("team-a", "platform/payments") take the rule's target kind and
// the source entity's namespace.
type fieldRule struct {
	kinds      []string
	field      string
	targetKind string
	relation   string
}

var fieldRules = []fieldRule{
	{kinds: []string{"component", "api", "resource", "system", "domain", "template"}, field: "owner", targetKind: "group", relation: domain.RelationOwnedBy},
	{kinds: []string{"component", "api", "resource"}, field: "system", targetKind: "system", relation: domain.RelationPartOf},
	{kinds: []string{"system"}, field: "domain", targetKind: "domain", relation: domain.RelationPartOf},
	{kinds: []string{"component"}, field: "subcomponentOf", targetKind: "component", relation: domain.RelationPartOf},
	{kinds: []string{"component"}, field: "providesApis", targetKind: "api", relation: domain.RelationProvidesAPI},
	{kinds: []string{"component"}, field: "consumesApis", targetKind: "api", relation: domain.RelationConsumesAPI},
	{kinds: []string{"component", "resource"}, field: "dependsOn", targetKind: "component", relation: domain.RelationDependsOn},
	{kinds: []string{"user"}, field: "memberOf", targetKind: "group", relation: domain.RelationMemberOf},
	{kinds: []string{"group"}, field: "parent", targetKind: "group", relation: domain.RelationChildOf},
	{kinds: []string{"group"}, field: "children", targetKind: "group", relation: domain.RelationParentOf},
	{kinds: []string{"group"}, field: "members", targetKind: "user", relation: domain.RelationMemberOf},
}

// members is declared on the group but the relation reads user -> group
var reversedFields = map[string]bool{"members": true}

func (r fieldRule) appliesTo(kind string) bool {
	kind = strings.ToLower(kind)
	for _, k := range r.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// DeriveRelations computes the full relation set of every entity: relations
// declared explicitly, relations implied by well-known spec fields, and the
// inverse of each of those on its target when the target is part of the set.
//
// The result is keyed by canonical entity reference. Relations are
// deduplicated and sorted by type then target. Targets are canonical.
func DeriveRelations(entities []*domain.Entity, pairs []domain.RelationPair) map[string][]domain.Relation {
	if pairs == nil {
		pairs = domain.DefaultRelationPairs()
	}

	known := mapset.NewThreadUnsafeSet[string]()
	for _, e := range entities {
		known.Add(e.Ref().String())
	}

	rels := make(map[string]mapset.Set[domain.Relation], len(entities))
	add := func(source, relType, target string) {
		set, ok := rels[source]
		if !ok {
			set = mapset.NewThreadUnsafeSet[domain.Relation]()
			rels[source] = set
		}
		set.Add(domain.Relation{Type: relType, TargetRef: target})
	}
	link := func(source, relType, target string) {
		add(source, relType, target)
		if !known.Contains(target) {
			return
		}
		if inverse, ok := inverseOf(pairs, relType); ok {
			add(target, inverse, source)
		}
	}

	for _, e := range entities {
		source := e.Ref().String()
		if _, ok := rels[source]; !ok {
			rels[source] = mapset.NewThreadUnsafeSet[domain.Relation]()
		}

		for _, rel := range e.Relations {
			link(source, rel.Type, domain.CanonicalRef(rel.TargetRef))
		}

		for _, rule := range fieldRules {
			if !rule.appliesTo(e.Kind) {
				continue
			}
			for _, value := range e.SpecStrings(rule.field) {
				ref, err := domain.ParseRefWithDefaults(value, rule.targetKind, e.Namespace())
				if err != nil {
					continue
				}
				target := ref.String()
				if reversedFields[rule.field] {
					// attach to the user so both sides come out the same as
					// a user declaring memberOf
					if known.Contains(target) {
						link(target, rule.relation, source)
					} else if inverse, ok := inverseOf(pairs, rule.relation); ok {
						add(source, inverse, target)
					}
					continue
				}
				link(source, rule.relation, target)
			}
		}
	}

	out := make(map[string][]domain.Relation, len(rels))
	for source, set := range rels {
		list := set.ToSlice()
		sort.Slice(list, func(i, j int) bool {
			if list[i].Type != list[j].Type {
				return list[i].Type < list[j].Type
			}
			return list[i].TargetRef < list[j].TargetRef
		})
		out[source] = list
	}
	return out
}

func inverseOf(pairs []domain.RelationPair, relType string) (string, bool) {
	pair, ok := domain.FindPair(pairs, relType)
	if !ok {
		return "", false
	}
	return pair.Inverse(relType)
}

// Stitch returns copies of entities carrying their derived relations
func Stitch(entities []*domain.Entity, pairs []domain.RelationPair) []*domain.Entity {
	derived := DeriveRelations(entities, pairs)
	out := make([]*domain.Entity, 0, len(entities))
	for _, e := range entities {
		c := e.Clone()
		c.Relations = derived[e.Ref().String()]
		out = append(out, c)
	}
	return out
}
