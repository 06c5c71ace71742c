package relgraph

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"entitygraph/internal/cache"
)

// Session keeps a graph up to date while entities arrive.
//
// Every cache notification re-runs ExpectedRefs and requests the result, so
// expansion continues as relations become known. Materialization waits for a
// quiet period (the debounce) after the last notification and is only
// delivered when the graph differs from the previous delivery.
type Session struct {
	cache    *cache.Cache
	roots    []string
	opts     Options
	debounce time.Duration
	onGraph  func(*Result)
	logger   logrus.FieldLogger

	last string
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithDebounce sets the quiet period before materializing
func WithDebounce(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithSessionLogger sets the logger
func WithSessionLogger(l logrus.FieldLogger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSession creates a session over c. onGraph is called from Run's
// goroutine.
func NewSession(c *cache.Cache, roots []string, opts Options, onGraph func(*Result), sopts ...SessionOption) (*Session, error) {
	roots = canonicalRoots(roots)
	if len(roots) == 0 {
		return nil, ErrNoRoots
	}

	s := &Session{
		cache:    c,
		roots:    roots,
		opts:     opts,
		debounce: DefaultDebounce,
		onGraph:  onGraph,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range sopts {
		opt(s)
	}
	return s, nil
}

// Run processes cache notifications until ctx is done
func (s *Session) Run(ctx context.Context) error {
	updates, unsubscribe := s.cache.Subscribe()
	defer unsubscribe()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	s.expand(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case _, ok := <-updates:
			if !ok {
				return nil
			}
			s.expand(ctx)

			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(s.debounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			s.emit()
		}
	}
}

func (s *Session) expand(ctx context.Context) {
	expected := ExpectedRefs(s.roots, s.cache.Entities(), s.opts)
	if s.cache.RequestEntities(ctx, expected) {
		s.logger.WithField("expected", len(expected)).Debug("Requested entities for graph session")
	}
}

func (s *Session) emit() {
	entities := s.cache.Entities()
	if len(entities) == 0 {
		return
	}

	graph := Materialize(s.roots, entities, s.opts)
	result := &Result{
		Graph:   graph,
		Err:     s.cache.Err(),
		Loading: s.cache.Loading(),
	}

	fp := Fingerprint(graph)
	if result.Err != nil {
		fp += "\nerr:" + result.Err.Error()
	}
	if result.Loading {
		fp += "\nloading"
	}
	if fp == s.last {
		return
	}
	s.last = fp

	sessionEmits.Inc()
	s.onGraph(result)
}
