package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"entitygraph/internal/domain"
)

// fakeSource serves entities from a map and counts fetches per reference
type fakeSource struct {
	mu       sync.Mutex
	entities map[string]*domain.Entity
	failing  map[string]error
	calls    map[string]int
	gate     chan struct{}
	active   int32
	peak     int32
}

func newFakeSource(entities ...*domain.Entity) *fakeSource {
	s := &fakeSource{
		entities: make(map[string]*domain.Entity),
		failing:  make(map[string]error),
		calls:    make(map[string]int),
	}
	for _, e := range entities {
		s.entities[e.Ref().String()] = e
	}
	return s
}

func (s *fakeSource) FetchEntity(ctx context.Context, ref string) (*domain.Entity, error) {
	active := atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)
	for {
		peak := atomic.LoadInt32(&s.peak)
		if active <= peak || atomic.CompareAndSwapInt32(&s.peak, peak, active) {
			break
		}
	}

	s.mu.Lock()
	s.calls[ref]++
	gate := s.gate
	err := s.failing[ref]
	entity := s.entities[ref]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return entity, nil
}

func (s *fakeSource) callCount(ref string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[ref]
}

func (s *fakeSource) setEntity(e *domain.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.Ref().String()] = e
}

func (s *fakeSource) openGate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.gate)
	s.gate = nil
}

func titled(name, title string) *domain.Entity {
	e := component(name)
	e.Metadata.Title = title
	return e
}

func waitCalls(t *testing.T, src *fakeSource, ref string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return src.callCount(ref) >= n
	}, 5*time.Second, time.Millisecond)
}

func (s *fakeSource) setFailing(ref string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failing, ref)
		return
	}
	s.failing[ref] = err
}

func component(name string) *domain.Entity {
	return &domain.Entity{
		APIVersion: "backstage.io/v1alpha1",
		Kind:       "Component",
		Metadata:   domain.EntityMetadata{Name: name, Namespace: "default"},
	}
}

func waitIdle(t *testing.T, c *Cache) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

func TestGetDeduplicatesConcurrentFetches(t *testing.T) {
	src := newFakeSource(component("foo"))
	src.gate = make(chan struct{})
	c := New(src)

	var wg sync.WaitGroup
	results := make([]*domain.Entity, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := c.Get(context.Background(), "Component:Default/Foo")
			assert.NoError(t, err)
			results[i] = e
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, 1, src.callCount("component:default/foo"))
	for _, e := range results {
		require.NotNil(t, e)
		assert.Equal(t, "foo", e.Metadata.Name)
	}
}

func TestRequestEntitiesDoesNotRefetchOutstanding(t *testing.T) {
	src := newFakeSource(component("a"), component("b"))
	src.gate = make(chan struct{})
	c := New(src)
	ctx := context.Background()

	assert.True(t, c.RequestEntities(ctx, []string{"component:default/a"}))
	assert.True(t, c.RequestEntities(ctx, []string{"component:default/a", "component:default/b"}))
	assert.True(t, c.Loading())

	close(src.gate)
	waitIdle(t, c)

	assert.Equal(t, 1, src.callCount("component:default/a"))
	assert.Equal(t, 1, src.callCount("component:default/b"))
	assert.Len(t, c.Entities(), 2)
	assert.False(t, c.Loading())
}

func TestRequestEntitiesChangeDetection(t *testing.T) {
	src := newFakeSource(component("a"), component("b"))
	c := New(src)
	ctx := context.Background()

	assert.False(t, c.RequestEntities(ctx, nil), "empty request on empty cache is not a change")
	assert.True(t, c.RequestEntities(ctx, []string{"component:default/a"}))
	waitIdle(t, c)

	assert.False(t, c.RequestEntities(ctx, []string{"COMPONENT:default/A"}), "same set in different case")
	assert.False(t, c.RequestEntities(ctx, []string{"component:a", "component:default/a"}), "duplicates collapse")
	assert.True(t, c.RequestEntities(ctx, []string{"component:default/b"}), "same size, different member")
	waitIdle(t, c)

	assert.Equal(t, 1, src.callCount("component:default/a"))
	assert.Equal(t, 1, src.callCount("component:default/b"))
	assert.Equal(t, []string{"component:default/b"}, c.Requested())
}

func TestEntitiesHidesUnrequested(t *testing.T) {
	src := newFakeSource(component("a"), component("b"))
	c := New(src)
	ctx := context.Background()

	c.RequestEntities(ctx, []string{"component:default/a", "component:default/b"})
	waitIdle(t, c)
	require.Len(t, c.Entities(), 2)

	c.RequestEntities(ctx, []string{"component:default/a"})
	visible := c.Entities()
	assert.Len(t, visible, 1)
	assert.Contains(t, visible, "component:default/a")
	assert.Equal(t, 2, c.Len(), "hidden entries stay cached")

	c.RequestEntities(ctx, []string{"component:default/a", "component:default/b"})
	assert.Len(t, c.Entities(), 2, "re-requested entry is visible without a fetch")
	assert.Equal(t, 1, src.callCount("component:default/b"))
}

func TestFetchFailureIsIsolated(t *testing.T) {
	src := newFakeSource(component("a"), component("b"))
	boom := errors.New("connection reset")
	src.setFailing("component:default/b", boom)
	c := New(src)
	ctx := context.Background()

	c.RequestEntities(ctx, []string{"component:default/a", "component:default/b"})
	waitIdle(t, c)

	visible := c.Entities()
	assert.Contains(t, visible, "component:default/a")
	assert.NotContains(t, visible, "component:default/b")
	require.Error(t, c.Err())
	assert.ErrorIs(t, c.Err(), boom)

	t.Run("failed reference is retried on the next requested set change", func(t *testing.T) {
		src.setFailing("component:default/b", nil)
		c.RequestEntities(ctx, []string{"component:default/b"})
		c.RequestEntities(ctx, []string{"component:default/a", "component:default/b"})
		waitIdle(t, c)

		assert.Len(t, c.Entities(), 2)
		assert.NoError(t, c.Err())
		assert.Equal(t, 2, src.callCount("component:default/b"))
	})
}

func TestNotFoundIsNotAnError(t *testing.T) {
	c := New(newFakeSource())
	ctx := context.Background()

	c.RequestEntities(ctx, []string{"component:default/missing"})
	waitIdle(t, c)

	assert.Empty(t, c.Entities())
	assert.NoError(t, c.Err())

	_, err := c.Get(ctx, "component:default/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrencyIsBounded(t *testing.T) {
	entities := make([]*domain.Entity, 0, 30)
	refs := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		e := component(string(rune('a'+i%26)) + string(rune('a'+i/26)))
		entities = append(entities, e)
		refs = append(refs, e.Ref().String())
	}
	src := newFakeSource(entities...)
	src.gate = make(chan struct{})
	c := New(src, WithConcurrency(3))

	c.RequestEntities(context.Background(), refs)
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	waitIdle(t, c)

	assert.LessOrEqual(t, atomic.LoadInt32(&src.peak), int32(3))
	assert.Len(t, c.Entities(), 30)
}

func TestSharedLimiter(t *testing.T) {
	limiter := semaphore.NewWeighted(1)
	src := newFakeSource(component("a"), component("b"))
	src.gate = make(chan struct{})

	c1 := New(src, WithLimiter(limiter))
	c2 := New(src, WithLimiter(limiter))
	c1.RequestEntities(context.Background(), []string{"component:default/a"})
	c2.RequestEntities(context.Background(), []string{"component:default/b"})

	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	waitIdle(t, c1)
	waitIdle(t, c2)

	assert.Equal(t, int32(1), atomic.LoadInt32(&src.peak))
}

func TestSubscribeNotifiesOnArrival(t *testing.T) {
	c := New(newFakeSource(component("a")))
	ch, unsubscribe := c.Subscribe()
	defer unsubscribe()

	c.RequestEntities(context.Background(), []string{"component:default/a"})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-ch:
			if len(c.Entities()) == 1 {
				return
			}
		case <-deadline:
			t.Fatal("expected notification after entity arrived")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	c := New(newFakeSource())
	ch, unsubscribe := c.Subscribe()
	unsubscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestLRUEvictionSkipsRequested(t *testing.T) {
	src := newFakeSource(component("a"), component("b"), component("c"))
	c := New(src, WithMaxEntries(2))
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		_, err := c.Get(ctx, "component:default/"+name)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Len())

	_, err := c.Get(ctx, "component:default/a")
	require.NoError(t, err)
	assert.Equal(t, 2, src.callCount("component:default/a"), "a was least recently used and evicted")

	c.RequestEntities(ctx, []string{"component:default/a", "component:default/b", "component:default/c"})
	waitIdle(t, c)
	assert.Len(t, c.Entities(), 3, "requested entries are never evicted")
}

func TestTTLExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	src := newFakeSource(component("a"))
	c := New(src, WithTTL(time.Minute), withClock(clock))
	ctx := context.Background()

	c.RequestEntities(ctx, []string{"component:default/a"})
	waitIdle(t, c)
	require.Len(t, c.Entities(), 1)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	assert.Empty(t, c.Entities())

	changed := c.RequestEntities(ctx, []string{"component:default/a"})
	assert.False(t, changed)
	waitIdle(t, c)
	assert.Equal(t, 2, src.callCount("component:default/a"))
	assert.Len(t, c.Entities(), 1)

	c.RequestEntities(ctx, []string{"component:default/a"})
	waitIdle(t, c)
	assert.Equal(t, 2, src.callCount("component:default/a"), "live entry is not refetched")
}

func TestUnchangedRequestDoesNotRetryMissing(t *testing.T) {
	src := newFakeSource(component("a"))
	c := New(src)
	ctx := context.Background()
	refs := []string{"component:default/a", "component:default/gone"}

	c.RequestEntities(ctx, refs)
	waitIdle(t, c)
	c.RequestEntities(ctx, refs)
	waitIdle(t, c)

	assert.Equal(t, 1, src.callCount("component:default/gone"))
	assert.Equal(t, 1, src.callCount("component:default/a"))
}

func TestPurgeDuringFetchDiscardsStaleResult(t *testing.T) {
	ref := "component:default/a"
	src := newFakeSource(titled("a", "old"))
	src.gate = make(chan struct{})
	c := New(src)
	ctx := context.Background()

	c.RequestEntities(ctx, []string{ref})
	waitCalls(t, src, ref, 1)

	c.Purge()
	src.setEntity(titled("a", "new"))
	c.RequestEntities(ctx, []string{ref})
	src.openGate()
	waitIdle(t, c)

	got := c.Entities()
	require.Contains(t, got, ref)
	assert.Equal(t, "new", got[ref].Metadata.Title)
	assert.Equal(t, 2, src.callCount(ref))
}

func TestPurgeDuringFetchWithoutRequest(t *testing.T) {
	ref := "component:default/a"
	src := newFakeSource(titled("a", "old"))
	src.gate = make(chan struct{})
	c := New(src)
	ctx := context.Background()

	c.RequestEntities(ctx, []string{ref})
	waitCalls(t, src, ref, 1)

	c.Purge()
	src.openGate()
	waitIdle(t, c)

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 1, src.callCount(ref))

	src.setEntity(titled("a", "new"))
	c.RequestEntities(ctx, []string{ref})
	waitIdle(t, c)
	require.Contains(t, c.Entities(), ref)
	assert.Equal(t, "new", c.Entities()[ref].Metadata.Title)
}

func TestInvalidateDuringFetchRefetches(t *testing.T) {
	a, b := "component:default/a", "component:default/b"
	src := newFakeSource(titled("a", "old"), titled("b", "old"))
	src.gate = make(chan struct{})
	c := New(src)
	ctx := context.Background()

	c.RequestEntities(ctx, []string{a, b})
	waitCalls(t, src, a, 1)
	waitCalls(t, src, b, 1)

	c.Invalidate(a)
	src.setEntity(titled("a", "new"))
	src.openGate()
	waitIdle(t, c)

	got := c.Entities()
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[a].Metadata.Title)
	assert.Equal(t, "old", got[b].Metadata.Title)
	assert.Equal(t, 2, src.callCount(a))
	assert.Equal(t, 1, src.callCount(b))
}

func TestInvalidatedRefIsRefetchedOnUnchangedRequest(t *testing.T) {
	ref := "component:default/a"
	src := newFakeSource(component("a"))
	c := New(src)
	ctx := context.Background()

	c.RequestEntities(ctx, []string{ref})
	waitIdle(t, c)
	c.Invalidate(ref)
	require.Empty(t, c.Entities())

	c.RequestEntities(ctx, []string{ref})
	waitIdle(t, c)
	assert.Len(t, c.Entities(), 1)
	assert.Equal(t, 2, src.callCount(ref))
}

func TestInvalidateAndPurge(t *testing.T) {
	src := newFakeSource(component("a"), component("b"))
	c := New(src)
	ctx := context.Background()

	c.RequestEntities(ctx, []string{"component:default/a", "component:default/b"})
	waitIdle(t, c)

	c.Invalidate("Component:default/A")
	assert.Len(t, c.Entities(), 1)

	c.Purge()
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Requested())
}

func TestCancelledRequestIsNotRecordedAsFailure(t *testing.T) {
	src := newFakeSource(component("a"))
	src.gate = make(chan struct{})
	c := New(src)

	ctx, cancel := context.WithCancel(context.Background())
	c.RequestEntities(ctx, []string{"component:default/a"})
	cancel()
	waitIdle(t, c)

	assert.Empty(t, c.Entities())
	assert.NoError(t, c.Err())
	close(src.gate)
}
