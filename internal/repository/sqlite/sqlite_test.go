package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitygraph/internal/domain"
	"entitygraph/internal/repository"
)

// ============================================================================
// Test Helpers
// ============================================================================

// newTestRepo creates an in-memory SQLite repository for testing
func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(":memory:")
	require.NoError(t, err, "failed to create test repository")

	t.Cleanup(func() {
		repo.Close()
	})
	return repo
}

func newEntity(kind, namespace, name string) *domain.Entity {
	return &domain.Entity{
		APIVersion: "backstage.io/v1alpha1",
		Kind:       kind,
		Metadata:   domain.EntityMetadata{Name: name, Namespace: namespace},
		Spec:       map[string]any{"owner": "team-a"},
	}
}

// ============================================================================
// Helper Function Tests
// ============================================================================

func TestNullToString(t *testing.T) {
	tests := []struct {
		name     string
		input    sql.NullString
		expected string
	}{
		{"valid", sql.NullString{String: "x", Valid: true}, "x"},
		{"null", sql.NullString{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, nullToString(tt.input))
		})
	}
}

func TestStringToNull(t *testing.T) {
	assert.False(t, stringToNull("").Valid)
	assert.Equal(t, sql.NullString{String: "a", Valid: true}, stringToNull("a"))
}

func TestEntityInsertArgsStripsDerivedAnnotation(t *testing.T) {
	e := newEntity("Component", "", "svc")
	e.Metadata.Annotations = map[string]string{UpdatedAtAnnotation: "2020-01-01T00:00:00Z"}

	args, err := entityInsertArgs(e, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "component:default/svc", args[0])
	assert.Equal(t, "component", args[1])
	assert.NotContains(t, string(args[5].([]byte)), UpdatedAtAnnotation)
	// the caller's entity is untouched
	assert.Contains(t, e.Metadata.Annotations, UpdatedAtAnnotation)
}

// ============================================================================
// Repository Tests
// ============================================================================

func TestUpsertAndGetEntity(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	svc := newEntity("Component", "", "Checkout")
	svc.Metadata.Title = "Checkout"
	require.NoError(t, repo.UpsertEntities(ctx, []*domain.Entity{svc}))

	got, err := repo.GetEntity(ctx, "component:default/checkout")
	require.NoError(t, err)
	assert.Equal(t, "Checkout", got.Metadata.Name)
	assert.Equal(t, "Checkout", got.Metadata.Title)
	assert.Equal(t, "team-a", got.SpecString("owner"))
	assert.Contains(t, got.Metadata.Annotations, UpdatedAtAnnotation)

	// case-insensitive and namespace-defaulting lookups hit the same row
	got, err = repo.GetEntity(ctx, "Component:CHECKOUT")
	require.NoError(t, err)
	assert.Equal(t, "component:default/checkout", got.Ref().String())

	// upsert replaces the descriptor
	svc.Spec = map[string]any{"owner": "team-b"}
	require.NoError(t, repo.UpsertEntities(ctx, []*domain.Entity{svc}))
	got, err = repo.GetEntity(ctx, "component:checkout")
	require.NoError(t, err)
	assert.Equal(t, "team-b", got.SpecString("owner"))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFetchEntityMissingAndMalformed(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	e, err := repo.FetchEntity(ctx, "component:default/nope")
	assert.NoError(t, err)
	assert.Nil(t, e)

	_, err = repo.GetEntity(ctx, "component:default/nope")
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	_, err = repo.FetchEntity(ctx, "no-kind")
	assert.True(t, errors.Is(err, domain.ErrInvalidRef))
}

func TestReplaceRelations(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := newEntity("Component", "", "a")
	a.Relations = []domain.Relation{{Type: "dependsOn", TargetRef: "component:default/b"}}
	b := newEntity("Component", "", "b")
	require.NoError(t, repo.UpsertEntities(ctx, []*domain.Entity{a, b}))

	require.NoError(t, repo.ReplaceRelations(ctx, map[string][]domain.Relation{
		"component:default/a": {
			{Type: "ownedBy", TargetRef: "Group:team-a"},
			{Type: "dependsOn", TargetRef: "component:default/b"},
		},
		"component:default/b": {{Type: "dependencyOf", TargetRef: "component:default/a"}},
		// not stored, skipped
		"component:default/ghost": {{Type: "dependsOn", TargetRef: "component:default/a"}},
	}))

	got, err := repo.GetEntity(ctx, "component:a")
	require.NoError(t, err)
	assert.Equal(t, []domain.Relation{
		{Type: "dependsOn", TargetRef: "component:default/b"},
		{Type: "ownedBy", TargetRef: "group:default/team-a"},
	}, got.Relations)

	list, err := repo.ListEntities(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []domain.Relation{{Type: "dependencyOf", TargetRef: "component:default/a"}}, list[1].Relations)

	// descriptors keep only their declared relations
	descriptors, err := repo.ListDescriptors(ctx)
	require.NoError(t, err)
	require.Len(t, descriptors, 2)
	assert.Equal(t, a.Relations, descriptors[0].Relations)
	assert.Empty(t, descriptors[1].Relations)

	// replacing drops the previous set
	require.NoError(t, repo.ReplaceRelations(ctx, nil))
	got, err = repo.GetEntity(ctx, "component:a")
	require.NoError(t, err)
	assert.Empty(t, got.Relations)
}

func TestListEntitiesByKind(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertEntities(ctx, []*domain.Entity{
		newEntity("Component", "", "b"),
		newEntity("Component", "ops", "a"),
		newEntity("Group", "", "team-a"),
	}))

	components, err := repo.ListEntities(ctx, "Component")
	require.NoError(t, err)
	require.Len(t, components, 2)
	assert.Equal(t, "component:default/b", components[0].Ref().String())
	assert.Equal(t, "component:ops/a", components[1].Ref().String())

	all, err := repo.ListEntities(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := repo.ListEntities(ctx, "api")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeleteEntityCascadesRelations(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertEntities(ctx, []*domain.Entity{
		newEntity("Component", "", "a"),
		newEntity("Component", "", "b"),
	}))
	require.NoError(t, repo.ReplaceRelations(ctx, map[string][]domain.Relation{
		"component:default/a": {{Type: "dependsOn", TargetRef: "component:default/b"}},
	}))

	require.NoError(t, repo.DeleteEntity(ctx, "component:a"))

	var n int
	require.NoError(t, repo.db.QueryRow(`SELECT COUNT(*) FROM relations`).Scan(&n))
	assert.Zero(t, n)

	err := repo.DeleteEntity(ctx, "component:a")
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestClear(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertEntities(ctx, []*domain.Entity{newEntity("Component", "", "a")}))
	require.NoError(t, repo.ReplaceRelations(ctx, map[string][]domain.Relation{
		"component:default/a": {{Type: "ownedBy", TargetRef: "group:default/x"}},
	}))
	require.NoError(t, repo.Clear(ctx))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpsertIsAtomic(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	bad := newEntity("Component", "", "bad")
	bad.Spec = map[string]any{"fn": func() {}}

	err := repo.UpsertEntities(ctx, []*domain.Entity{newEntity("Component", "", "good"), bad})
	require.Error(t, err)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
