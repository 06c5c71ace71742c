package domain

import "strings"

// Well-known relation types
const (
	RelationOwnerOf       = "ownerOf"
	RelationOwnedBy       = "ownedBy"
	RelationConsumesAPI   = "consumesApi"
	RelationAPIConsumedBy = "apiConsumedBy"
	RelationProvidesAPI   = "providesApi"
	RelationAPIProvidedBy = "apiProvidedBy"
	RelationHasPart       = "hasPart"
	RelationPartOf        = "partOf"
	RelationParentOf      = "parentOf"
	RelationChildOf       = "childOf"
	RelationHasMember     = "hasMember"
	RelationMemberOf      = "memberOf"
	RelationDependsOn     = "dependsOn"
	RelationDependencyOf  = "dependencyOf"
)

// RelationPair is a pair of relation types that are inverses of each other.
// Merged edges are oriented along Forward.
type RelationPair struct {
	Forward string `json:"forward" yaml:"forward"`
	Reverse string `json:"reverse" yaml:"reverse"`
}

// Types returns the pair as a label list, forward first
func (p RelationPair) Types() []string {
	return []string{p.Forward, p.Reverse}
}

// Contains reports whether relType is either member of the pair
func (p RelationPair) Contains(relType string) bool {
	return p.Forward == relType || p.Reverse == relType
}

// Inverse returns the other member of the pair
func (p RelationPair) Inverse(relType string) (string, bool) {
	switch relType {
	case p.Forward:
		return p.Reverse, true
	case p.Reverse:
		return p.Forward, true
	}
	return "", false
}

// DefaultRelationPairs returns the built-in inverse relation pairs
func DefaultRelationPairs() []RelationPair {
	return []RelationPair{
		{Forward: RelationOwnerOf, Reverse: RelationOwnedBy},
		{Forward: RelationConsumesAPI, Reverse: RelationAPIConsumedBy},
		{Forward: RelationAPIProvidedBy, Reverse: RelationProvidesAPI},
		{Forward: RelationHasPart, Reverse: RelationPartOf},
		{Forward: RelationParentOf, Reverse: RelationChildOf},
		{Forward: RelationHasMember, Reverse: RelationMemberOf},
		{Forward: RelationDependsOn, Reverse: RelationDependencyOf},
	}
}

// FindPair returns the first pair containing relType
func FindPair(pairs []RelationPair, relType string) (RelationPair, bool) {
	for _, p := range pairs {
		if p.Contains(relType) {
			return p, true
		}
	}
	return RelationPair{}, false
}

// GraphEdge is one rendered edge between two graph nodes
type GraphEdge struct {
	From      string   `json:"from" yaml:"from"`
	To        string   `json:"to" yaml:"to"`
	Relations []string `json:"relations" yaml:"relations"`
}

// Key identifies the edge by endpoints and relation labels
func (e GraphEdge) Key() string {
	return e.From + "|" + e.To + "|" + strings.Join(e.Relations, ",")
}
