// Package catalog validates entity descriptors and derives their relations.
//
// Descriptors name related entities in spec fields (owner, system,
// providesApis, memberOf, ...). DeriveRelations turns those fields into typed
// relations and adds the inverse relation on the other side, so a component
// owned by a group yields ownedBy on the component and ownerOf on the group.
package catalog
