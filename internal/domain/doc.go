// Package domain defines the core types of the entity relation graph.
//
// # References
//
// EntityRef identifies a catalog entity by kind, namespace and name. Its
// canonical string form is "kind:namespace/name", lowercased, and two
// references are equal iff their canonical forms are equal.
//
// # Entities and relations
//
// Entity is a catalog record: kind, metadata, an opaque spec and a list of
// typed Relations pointing at other entities by reference string. Relations
// are directed and not guaranteed to be reciprocated. RelationPair names two
// relation types that are inverses of each other (ownerOf/ownedBy) so that
// they can be drawn as a single edge.
//
// # Graph
//
// Graph, GraphNode and GraphEdge are the output of a graph resolution. Node
// ids are canonical reference strings and edge endpoints are node ids, which
// is the only contract with a layout engine.
//
// This package has no storage or transport dependencies.
package domain
