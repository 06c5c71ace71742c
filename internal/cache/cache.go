// Package cache resolves entity references to entities, fetching each
// reference at most once and bounding the number of fetches in flight.
//
// The cache keeps every fetched entity, but only exposes the ones in the set
// most recently passed to RequestEntities. Subscribers are told whenever that
// visible map may have changed, which lets a graph builder re-run its
// traversal as entities arrive.
package cache

import (
	"container/list"
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"entitygraph/internal/domain"
)

// ErrNotFound is returned by Get when the source has no such entity
var ErrNotFound = errors.New("entity not found")

type entry struct {
	ref       string
	entity    *domain.Entity
	fetchedAt time.Time
	elem      *list.Element
}

type failure struct {
	err error
	seq uint64
}

// Cache is an entity cache shared by one graph viewing session.
//
// Thread Safety:
//
//	Cache is safe for concurrent use. Fetches run on their own goroutines and
//	never hold the cache lock while waiting on the source.
type Cache struct {
	source  Source
	options Options
	limiter Limiter
	flight  singleflight.Group

	mu          sync.Mutex
	cached      map[string]*entry
	lru         *list.List
	requested   mapset.Set[string]
	outstanding map[string]struct{}
	// refs dropped while requested; fetched again even if the requested
	// set does not change
	refetch     mapset.Set[string]
	generation  uint64
	refGen      map[string]uint64
	failures    map[string]failure
	failureSeq  uint64
	inflight    int
	idle        chan struct{}
	subscribers map[chan struct{}]struct{}
}

// New creates a cache in front of source
func New(source Source, opts ...Option) *Cache {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	limiter := options.Limiter
	if limiter == nil {
		limiter = semaphore.NewWeighted(int64(options.Concurrency))
	}

	idle := make(chan struct{})
	close(idle)

	return &Cache{
		source:      source,
		options:     options,
		limiter:     limiter,
		cached:      make(map[string]*entry),
		lru:         list.New(),
		requested:   mapset.NewThreadUnsafeSet[string](),
		outstanding: make(map[string]struct{}),
		refetch:     mapset.NewThreadUnsafeSet[string](),
		refGen:      make(map[string]uint64),
		failures:    make(map[string]failure),
		idle:        idle,
		subscribers: make(map[chan struct{}]struct{}),
	}
}

// RequestEntities makes refs the requested set and starts fetching every
// requested reference that is neither cached nor already being fetched.
//
// Requesting the current set again only refetches entries that expired or
// were invalidated, so callers may invoke it on every recomputation. Failed
// and missing references are retried when the set changes. Fetches started
// here use ctx; cancelling it abandons them without caching anything.
// Returns whether the requested set changed.
func (c *Cache) RequestEntities(ctx context.Context, refs []string) bool {
	next := mapset.NewThreadUnsafeSet[string]()
	for _, ref := range refs {
		next.Add(domain.CanonicalRef(ref))
	}

	c.mu.Lock()
	changed := next.Cardinality() != c.requested.Cardinality() || !next.IsSubset(c.requested)
	if changed {
		c.requested = next
	}

	missing := make([]string, 0)
	for _, ref := range c.requested.ToSlice() {
		if _, ok := c.outstanding[ref]; ok {
			continue
		}
		if !changed && !c.staleLocked(ref) {
			continue
		}
		if _, ok := c.lookupLocked(ref); ok {
			continue
		}
		missing = append(missing, ref)
	}
	sort.Strings(missing)
	for _, ref := range missing {
		c.startLocked(ref)
	}
	if changed || len(missing) > 0 {
		c.notifyLocked()
	}
	c.mu.Unlock()

	for _, ref := range missing {
		go c.fetchInBackground(ctx, ref)
	}
	return changed
}

// startLocked marks ref as being fetched in the background
func (c *Cache) startLocked(ref string) {
	c.outstanding[ref] = struct{}{}
	c.refetch.Remove(ref)
	c.beginLocked()
}

// staleLocked reports whether ref must be fetched again although the
// requested set is unchanged
func (c *Cache) staleLocked(ref string) bool {
	if c.refetch.Contains(ref) {
		return true
	}
	e, ok := c.cached[ref]
	return ok && c.expired(e)
}

func (c *Cache) fetchInBackground(ctx context.Context, ref string) {
	_, epoch, err := c.load(ctx, ref)
	if err != nil && !errors.Is(err, ErrNotFound) {
		c.options.Logger.WithFields(logrus.Fields{
			"ref":   ref,
			"error": err,
		}).Debug("Entity fetch failed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.outstanding, ref)
	if c.epochLocked(ref) != epoch {
		// invalidated while in flight, the result was discarded
		c.refetch.Add(ref)
		if _, cached := c.cached[ref]; !cached && c.requested.Contains(ref) && ctx.Err() == nil {
			c.startLocked(ref)
			go c.fetchInBackground(ctx, ref)
		}
	}
	c.endLocked()
	c.notifyLocked()
}

// Get returns the entity for ref, fetching it if needed. Concurrent calls for
// the same reference share one fetch.
func (c *Cache) Get(ctx context.Context, ref string) (*domain.Entity, error) {
	e, _, err := c.load(ctx, domain.CanonicalRef(ref))
	return e, err
}

// load returns the entity for a canonical ref along with the epoch its fetch
// belonged to. Fetches of different epochs are not shared, so a request made
// after Purge or Invalidate never receives a result fetched before it.
func (c *Cache) load(ctx context.Context, ref string) (*domain.Entity, uint64, error) {
	c.mu.Lock()
	e, ok := c.lookupLocked(ref)
	epoch := c.epochLocked(ref)
	c.mu.Unlock()
	if ok {
		hitsTotal.Inc()
		return e, epoch, nil
	}

	key := strconv.FormatUint(epoch, 10) + "|" + ref
	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		return c.fetch(ctx, ref, epoch)
	})
	if err != nil {
		return nil, epoch, err
	}
	if v == nil {
		return nil, epoch, errors.Wrap(ErrNotFound, ref)
	}
	return v.(*domain.Entity), epoch, nil
}

// epochLocked changes whenever ref is invalidated or the cache is purged
func (c *Cache) epochLocked(ref string) uint64 {
	return c.generation + c.refGen[ref]
}

// fetch runs inside the singleflight group for ref. Results are only cached
// while epoch is current.
func (c *Cache) fetch(ctx context.Context, ref string, epoch uint64) (interface{}, error) {
	c.mu.Lock()
	e, ok := c.lookupLocked(ref)
	c.mu.Unlock()
	if ok {
		return e, nil
	}

	if err := c.limiter.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrapf(err, "wait for fetch slot %s", ref)
	}
	defer c.limiter.Release(1)

	inflightFetches.Inc()
	entity, err := c.source.FetchEntity(ctx, ref)
	inflightFetches.Dec()

	if err != nil {
		fetchesTotal.WithLabelValues("error").Inc()
		err = errors.Wrapf(err, "fetch %s", ref)
		if ctx.Err() == nil {
			c.recordFailure(ref, err, epoch)
		}
		return nil, err
	}
	if entity == nil {
		fetchesTotal.WithLabelValues("not_found").Inc()
		c.mu.Lock()
		if c.epochLocked(ref) == epoch {
			delete(c.failures, ref)
		}
		c.mu.Unlock()
		return nil, nil
	}

	fetchesTotal.WithLabelValues("success").Inc()
	c.store(ref, entity, epoch)
	return entity, nil
}

func (c *Cache) recordFailure(ref string, err error, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epochLocked(ref) != epoch {
		return
	}
	c.failureSeq++
	c.failures[ref] = failure{err: err, seq: c.failureSeq}
}

func (c *Cache) store(ref string, entity *domain.Entity, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epochLocked(ref) != epoch {
		return
	}
	delete(c.failures, ref)
	now := c.options.now()
	if e, ok := c.cached[ref]; ok {
		e.entity = entity
		e.fetchedAt = now
		c.lru.MoveToFront(e.elem)
		return
	}

	e := &entry{ref: ref, entity: entity, fetchedAt: now}
	e.elem = c.lru.PushFront(e)
	c.cached[ref] = e
	c.evictLocked()
}

// evictLocked drops least recently used entries above MaxEntries. Entries in
// the requested set are skipped, so the cache may stay above the bound while
// a large graph is being viewed.
func (c *Cache) evictLocked() {
	if c.options.MaxEntries <= 0 {
		return
	}
	for elem := c.lru.Back(); elem != nil && len(c.cached) > c.options.MaxEntries; {
		prev := elem.Prev()
		e := elem.Value.(*entry)
		if !c.requested.Contains(e.ref) {
			c.removeLocked(e)
			evictionsTotal.WithLabelValues("lru").Inc()
		}
		elem = prev
	}
}

func (c *Cache) removeLocked(e *entry) {
	c.lru.Remove(e.elem)
	delete(c.cached, e.ref)
}

// lookupLocked returns a live cached entity, dropping it when expired
func (c *Cache) lookupLocked(ref string) (*domain.Entity, bool) {
	e, ok := c.cached[ref]
	if !ok {
		return nil, false
	}
	if c.expired(e) {
		c.removeLocked(e)
		c.refetch.Add(ref)
		evictionsTotal.WithLabelValues("ttl").Inc()
		return nil, false
	}
	c.lru.MoveToFront(e.elem)
	return e.entity, true
}

func (c *Cache) expired(e *entry) bool {
	return c.options.TTL > 0 && c.options.now().Sub(e.fetchedAt) > c.options.TTL
}

func (c *Cache) beginLocked() {
	if c.inflight == 0 {
		c.idle = make(chan struct{})
	}
	c.inflight++
}

func (c *Cache) endLocked() {
	c.inflight--
	if c.inflight == 0 {
		close(c.idle)
	}
}

// Entities returns the cached entities restricted to the requested set.
// Entities that are cached but no longer requested are hidden, not evicted.
func (c *Cache) Entities() map[string]*domain.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()

	visible := make(map[string]*domain.Entity, c.requested.Cardinality())
	c.requested.Each(func(ref string) bool {
		if e, ok := c.cached[ref]; ok && !c.expired(e) {
			visible[ref] = e.entity
		}
		return false
	})
	return visible
}

// Requested returns the current requested set, sorted
func (c *Cache) Requested() []string {
	c.mu.Lock()
	refs := c.requested.ToSlice()
	c.mu.Unlock()
	sort.Strings(refs)
	return refs
}

// Err returns the most recent fetch failure among the requested references
// that are still unresolved, or nil.
func (c *Cache) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var last failure
	for ref, f := range c.failures {
		if !c.requested.Contains(ref) {
			continue
		}
		if _, ok := c.cached[ref]; ok {
			continue
		}
		if f.seq > last.seq {
			last = f
		}
	}
	return last.err
}

// Loading reports whether any background fetch is in flight
func (c *Cache) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight > 0
}

// Wait blocks until no background fetch is in flight
func (c *Cache) Wait(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of cached entities, visible or not
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cached)
}

// Subscribe returns a channel that receives a value whenever the visible
// entity map may have changed. Notifications coalesce: a slow reader sees at
// least one pending value, never a backlog. The returned function
// unsubscribes and closes the channel.
func (c *Cache) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	c.mu.Lock()
	c.subscribers[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, ch)
			close(ch)
			c.mu.Unlock()
		})
	}
}

func (c *Cache) notifyLocked() {
	for ch := range c.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Invalidate drops the given references so the next request refetches them.
// Fetches of these references already in flight are not cached.
func (c *Cache) Invalidate(refs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ref := range refs {
		ref = domain.CanonicalRef(ref)
		c.refGen[ref]++
		c.refetch.Add(ref)
		if e, ok := c.cached[ref]; ok {
			c.removeLocked(e)
			evictionsTotal.WithLabelValues("invalidate").Inc()
		}
		delete(c.failures, ref)
	}
	c.notifyLocked()
}

// Purge drops every cached entity and the requested set. Fetches already in
// flight are not cached; a reference requested again is fetched anew.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.refetch = mapset.NewThreadUnsafeSet[string]()
	evictionsTotal.WithLabelValues("invalidate").Add(float64(len(c.cached)))
	c.cached = make(map[string]*entry)
	c.lru.Init()
	c.failures = make(map[string]failure)
	c.requested = mapset.NewThreadUnsafeSet[string]()
	c.notifyLocked()
}
