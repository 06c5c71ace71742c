package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"entitygraph/internal/relgraph"
)

// GraphQuery describes a graph request. Nil fields take the service
// defaults.
type GraphQuery struct {
	Roots          []string `json:"roots"`
	MaxDepth       *int     `json:"maxDepth,omitempty"`
	RelationTypes  []string `json:"relationTypes,omitempty"`
	Kinds          []string `json:"kinds,omitempty"`
	Unidirectional *bool    `json:"unidirectional,omitempty"`
	MergeRelations *bool    `json:"mergeRelations,omitempty"`
}

// Options resolves the query against defaults
func (q GraphQuery) Options(defaults relgraph.Options) relgraph.Options {
	opts := defaults
	if q.MaxDepth != nil {
		opts.MaxDepth = *q.MaxDepth
	}
	if q.Unidirectional != nil {
		opts.Unidirectional = *q.Unidirectional
	}
	if q.MergeRelations != nil {
		opts.MergeRelations = *q.MergeRelations
	}
	if len(q.RelationTypes) > 0 {
		opts = opts.WithRelationTypes(q.RelationTypes...)
	}
	if len(q.Kinds) > 0 {
		opts = opts.WithKinds(q.Kinds...)
	}
	return opts
}

// graphSummary is the graph_resolved event payload
type graphSummary struct {
	Roots []string `json:"roots"`
	Nodes int      `json:"nodes"`
	Edges int      `json:"edges"`
	Error string   `json:"error,omitempty"`
}

// Graph resolves the relation graph around q.Roots. Entities that fail to
// load are left out and reported in Result.Err.
func (s *CatalogService) Graph(ctx context.Context, q GraphQuery) (*relgraph.Result, error) {
	c := s.newCache()
	result, err := relgraph.NewResolver(c, s.logger).Resolve(ctx, q.Roots, q.Options(s.settings.Defaults))
	if err != nil {
		return nil, err
	}

	summary := graphSummary{
		Roots: q.Roots,
		Nodes: len(result.Graph.Nodes),
		Edges: len(result.Graph.Edges),
	}
	if result.Err != nil {
		summary.Error = result.Err.Error()
	}
	s.eventBus.Publish(Event{Type: EventGraphResolved, Payload: summary})
	return result, nil
}

// WatchGraph streams graphs for q to fn until ctx is done. A partial graph is
// delivered while entities load and a new one whenever the catalog changes.
// fn is called from a single goroutine.
func (s *CatalogService) WatchGraph(ctx context.Context, q GraphQuery, fn func(*relgraph.Result)) error {
	c := s.newCache()
	session, err := relgraph.NewSession(c, q.Roots, q.Options(s.settings.Defaults), fn,
		relgraph.WithDebounce(s.settings.Debounce),
		relgraph.WithSessionLogger(s.logger),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan Event, 16)
	s.eventBus.Subscribe(events)
	defer s.eventBus.Unsubscribe(events)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				if ev.changesCatalog() {
					s.logger.WithField("event", ev.Type).Debug("Catalog changed, refreshing watched graph")
					c.Purge()
				}
			}
		}
	}()

	s.logger.WithFields(logrus.Fields{"roots": q.Roots}).Debug("Watching entity graph")
	return session.Run(ctx)
}
