package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitygraph/internal/catalog"
	"entitygraph/internal/relgraph"
	"entitygraph/internal/repository"
	"entitygraph/internal/repository/sqlite"
)

const shopCatalog = `
apiVersion: backstage.io/v1alpha1
kind: Component
metadata:
  name: foo
spec:
  owner: team-x
  dependsOn: [component:bar]
---
apiVersion: backstage.io/v1alpha1
kind: Component
metadata:
  name: bar
spec:
  owner: team-x
---
apiVersion: backstage.io/v1alpha1
kind: Group
metadata:
  name: team-x
`

func newTestService(t *testing.T) (*CatalogService, *EventBus) {
	t.Helper()
	repo, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	settings := DefaultGraphSettings()
	settings.Debounce = 10 * time.Millisecond

	bus := NewEventBus()
	svc, err := NewCatalogService(repo, bus, settings, nil)
	require.NoError(t, err)
	return svc, bus
}

func importShop(t *testing.T, svc *CatalogService) *ImportResult {
	t.Helper()
	result, err := svc.Import(context.Background(), strings.NewReader(shopCatalog), "yaml", "")
	require.NoError(t, err)
	return result
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	ch := make(chan Event, 1)
	bus.Subscribe(ch)

	bus.Publish(Event{Type: EventCatalogCleared})
	bus.Publish(Event{Type: EventCatalogCleared}) // dropped, buffer full
	assert.Equal(t, EventCatalogCleared, (<-ch).Type)
	assert.Len(t, ch, 0)

	bus.Unsubscribe(ch)
	bus.Publish(Event{Type: EventEntityDeleted})
	assert.Len(t, ch, 0)
}

func TestImportStitchesRelations(t *testing.T) {
	svc, bus := newTestService(t)
	events := make(chan Event, 4)
	bus.Subscribe(events)

	result := importShop(t, svc)
	assert.Equal(t, 3, result.Entities)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, StrategyMerge, result.Strategy)
	assert.Equal(t, "yaml", result.Format)
	// foo: ownedBy, dependsOn; bar: ownedBy, dependencyOf; team-x: ownerOf x2
	assert.Equal(t, 6, result.Relations)

	ev := <-events
	assert.Equal(t, EventCatalogImported, ev.Type)

	team, err := svc.GetEntity(context.Background(), "group:team-x")
	require.NoError(t, err)
	assert.True(t, team.HasRelation("ownerOf", "component:foo"))
	assert.True(t, team.HasRelation("ownerOf", "component:bar"))
}

func TestImportRejectsInvalidBatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bad := shopCatalog + "---\napiVersion: backstage.io/v1alpha1\nkind: Component\nmetadata:\n  name: not valid\n"
	_, err := svc.Import(ctx, strings.NewReader(bad), "yaml", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, catalog.ErrInvalidEntity))

	entities, err := svc.ListEntities(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, entities, "nothing is written when validation fails")

	_, err = svc.Import(ctx, strings.NewReader(shopCatalog), "yaml", "upsert")
	assert.Error(t, err)

	_, err = svc.Import(ctx, strings.NewReader(shopCatalog), "toml", "")
	assert.Error(t, err)
}

func TestImportReplaceStrategy(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	importShop(t, svc)

	only := `{"items":[{"apiVersion":"backstage.io/v1alpha1","kind":"Component","metadata":{"name":"solo"}}]}`
	result, err := svc.Import(ctx, strings.NewReader(only), "json", StrategyReplace)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)

	_, err = svc.GetEntity(ctx, "component:foo")
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestImportFiles(t *testing.T) {
	svc, _ := newTestService(t)
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "shop.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(shopCatalog), 0o644))
	jsonPath := filepath.Join(dir, "api.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"apiVersion":"backstage.io/v1alpha1","kind":"API","metadata":{"name":"foo-api"}}]`), 0o644))

	result, err := svc.ImportFiles(context.Background(), []string{yamlPath, jsonPath}, "")
	require.NoError(t, err)
	assert.Equal(t, 4, result.Entities)

	t.Run("all parse failures are reported", func(t *testing.T) {
		broken := filepath.Join(dir, "broken.yaml")
		require.NoError(t, os.WriteFile(broken, []byte("kind: [\n"), 0o644))

		_, err := svc.ImportFiles(context.Background(), []string{broken, filepath.Join(dir, "missing.json"), filepath.Join(dir, "notes.txt")}, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken.yaml")
		assert.Contains(t, err.Error(), "3 errors occurred")
	})
}

func TestExport(t *testing.T) {
	svc, _ := newTestService(t)
	importShop(t, svc)

	var buf bytes.Buffer
	require.NoError(t, svc.Export(context.Background(), &buf, "yaml"))

	// descriptors are exported without derived relations, so a re-import
	// produces the same catalog
	assert.NotContains(t, buf.String(), "ownerOf")
	assert.Equal(t, 3, strings.Count(buf.String(), "apiVersion:"))

	other, _ := newTestService(t)
	result, err := other.Import(context.Background(), &buf, "yaml", "")
	require.NoError(t, err)
	assert.Equal(t, 6, result.Relations)
}

func TestDeleteEntityRestitches(t *testing.T) {
	svc, bus := newTestService(t)
	ctx := context.Background()
	importShop(t, svc)

	events := make(chan Event, 4)
	bus.Subscribe(events)

	require.NoError(t, svc.DeleteEntity(ctx, "Component:Bar"))
	ev := <-events
	assert.Equal(t, EventEntityDeleted, ev.Type)
	assert.Equal(t, map[string]string{"ref": "component:default/bar"}, ev.Payload)

	team, err := svc.GetEntity(ctx, "group:team-x")
	require.NoError(t, err)
	assert.False(t, team.HasRelation("ownerOf", "component:bar"))

	// foo still declares the dependency, the target is just gone
	foo, err := svc.GetEntity(ctx, "component:foo")
	require.NoError(t, err)
	assert.True(t, foo.HasRelation("dependsOn", "component:bar"))

	err = svc.DeleteEntity(ctx, "component:bar")
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestGraph(t *testing.T) {
	svc, bus := newTestService(t)
	importShop(t, svc)

	events := make(chan Event, 4)
	bus.Subscribe(events)

	depth := 1
	merge := false
	result, err := svc.Graph(context.Background(), GraphQuery{
		Roots:          []string{"component:default/foo"},
		MaxDepth:       &depth,
		RelationTypes:  []string{"ownedBy"},
		MergeRelations: &merge,
	})
	require.NoError(t, err)
	require.NoError(t, result.Err)

	assert.Equal(t, []string{"component:default/foo", "group:default/team-x"}, result.Graph.NodeIDs())
	require.Len(t, result.Graph.Edges, 1)
	assert.Equal(t, "component:default/foo", result.Graph.Edges[0].From)
	assert.Equal(t, []string{"ownedBy"}, result.Graph.Edges[0].Relations)

	ev := <-events
	assert.Equal(t, EventGraphResolved, ev.Type)

	_, err = svc.Graph(context.Background(), GraphQuery{})
	assert.True(t, errors.Is(err, relgraph.ErrNoRoots))
}

func TestGraphQueryOptions(t *testing.T) {
	defaults := relgraph.DefaultOptions()

	opts := GraphQuery{}.Options(defaults)
	assert.Equal(t, relgraph.InfiniteDepth, opts.MaxDepth)
	assert.True(t, opts.MergeRelations)
	assert.Nil(t, opts.Kinds)

	depth := 0
	uni := false
	opts = GraphQuery{MaxDepth: &depth, Unidirectional: &uni, Kinds: []string{"API"}}.Options(defaults)
	assert.Equal(t, 0, opts.MaxDepth)
	assert.False(t, opts.Unidirectional)
	assert.True(t, opts.Kinds.Contains("api"))
}

func TestWatchGraphRefreshesOnCatalogChange(t *testing.T) {
	svc, _ := newTestService(t)
	importShop(t, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results := make(chan *relgraph.Result, 16)
	done := make(chan error, 1)
	go func() {
		done <- svc.WatchGraph(ctx, GraphQuery{Roots: []string{"group:team-x"}}, func(r *relgraph.Result) {
			results <- r
		})
	}()

	waitFor := func(n int) *relgraph.Result {
		for {
			select {
			case r := <-results:
				if len(r.Graph.Nodes) == n && !r.Loading {
					return r
				}
			case <-ctx.Done():
				t.Fatalf("no graph with %d nodes", n)
				return nil
			}
		}
	}

	first := waitFor(3)
	// unidirectional: foo -> bar is dropped because bar was reached from the group
	assert.Len(t, first.Graph.Edges, 2)

	require.NoError(t, svc.DeleteEntity(context.Background(), "component:bar"))
	second := waitFor(2)
	assert.Equal(t, []string{"component:default/foo", "group:default/team-x"}, second.Graph.NodeIDs())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
