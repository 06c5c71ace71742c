// Package repository defines the data access interfaces for the entity
// catalog.
//
// The sqlite subpackage implements Repository. Entity descriptors are kept
// exactly as imported in the entities table; the relations table holds the
// stitched relation set computed from all descriptors, so re-deriving
// relations never has to strip previously derived ones from a descriptor.
//
// FetchEntity has the lookup contract of a graph entity source: a missing
// entity is (nil, nil), and only storage failures and malformed references
// are errors. GetEntity returns ErrNotFound instead.
package repository
