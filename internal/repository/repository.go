package repository

import (
	"context"

	"github.com/pkg/errors"

	"entitygraph/internal/domain"
)

// ErrNotFound is returned when an entity does not exist
var ErrNotFound = errors.New("entity not found")

// Repository defines the interface for catalog data access.
//
// Descriptors are stored as imported. Relations are stored separately as the
// derived, stitched set and attached to entities on read.
type Repository interface {
	// Read operations
	GetEntity(ctx context.Context, ref string) (*domain.Entity, error)
	FetchEntity(ctx context.Context, ref string) (*domain.Entity, error)
	ListEntities(ctx context.Context, kind string) ([]*domain.Entity, error)
	ListDescriptors(ctx context.Context) ([]*domain.Entity, error)
	Count(ctx context.Context) (int, error)

	// Write operations
	UpsertEntities(ctx context.Context, entities []*domain.Entity) error
	ReplaceRelations(ctx context.Context, relations map[string][]domain.Relation) error
	DeleteEntity(ctx context.Context, ref string) error
	Clear(ctx context.Context) error

	// Close releases resources
	Close() error
}
