package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"entitygraph/internal/domain"
)

// DefaultConcurrency is the number of fetches a cache allows in flight
const DefaultConcurrency = 10

// Source fetches entities by canonical reference. A nil entity with a nil
// error means the entity does not exist.
type Source interface {
	FetchEntity(ctx context.Context, ref string) (*domain.Entity, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context, ref string) (*domain.Entity, error)

// FetchEntity calls f(ctx, ref)
func (f SourceFunc) FetchEntity(ctx context.Context, ref string) (*domain.Entity, error) {
	return f(ctx, ref)
}

// Limiter bounds concurrent fetches. *semaphore.Weighted satisfies it, so one
// limiter can be shared by several caches.
type Limiter interface {
	Acquire(ctx context.Context, n int64) error
	Release(n int64)
}

// Options configures a Cache
type Options struct {
	// Limiter bounds in-flight fetches. Nil means a private semaphore of
	// Concurrency slots.
	Limiter     Limiter
	Concurrency int

	// MaxEntries bounds the number of cached entities. Zero keeps every
	// entity for the lifetime of the cache.
	MaxEntries int

	// TTL expires cached entities. Zero never expires them.
	TTL time.Duration

	Logger logrus.FieldLogger

	now func() time.Time
}

// DefaultOptions returns unbounded, non-expiring options
func DefaultOptions() Options {
	return Options{
		Concurrency: DefaultConcurrency,
		Logger:      logrus.StandardLogger(),
		now:         time.Now,
	}
}

// Option is a functional option for configuring a Cache
type Option func(*Options)

// WithLimiter shares an externally owned limiter
func WithLimiter(l Limiter) Option {
	return func(o *Options) {
		o.Limiter = l
	}
}

// WithConcurrency sets the size of the private limiter
func WithConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithMaxEntries enables LRU eviction above n entries
func WithMaxEntries(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxEntries = n
		}
	}
}

// WithTTL expires entries d after they were fetched
func WithTTL(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.TTL = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(o *Options) {
		o.now = now
	}
}
