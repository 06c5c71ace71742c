package service

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"entitygraph/internal/cache"
	"entitygraph/internal/catalog"
	"entitygraph/internal/codec"
	"entitygraph/internal/domain"
	"entitygraph/internal/relgraph"
	"entitygraph/internal/repository"
)

// Import strategies
const (
	StrategyMerge   = "merge"
	StrategyReplace = "replace"
)

// maxParallelParse bounds concurrent file parsing in ImportFiles
const maxParallelParse = 4

// ImportResult represents the result of an import operation
type ImportResult struct {
	Entities  int    `json:"entities"`
	Relations int    `json:"relations"`
	Total     int    `json:"total"`
	Format    string `json:"format,omitempty"`
	Strategy  string `json:"strategy"`
}

// GraphSettings are the server-wide graph defaults and fetch limits
type GraphSettings struct {
	Defaults    relgraph.Options
	Debounce    time.Duration
	Concurrency int
	MaxEntries  int
	TTL         time.Duration
}

// DefaultGraphSettings returns the relgraph and cache defaults
func DefaultGraphSettings() GraphSettings {
	return GraphSettings{
		Defaults:    relgraph.DefaultOptions(),
		Debounce:    relgraph.DefaultDebounce,
		Concurrency: cache.DefaultConcurrency,
	}
}

// CatalogService provides catalog storage and graph queries
type CatalogService struct {
	repo      repository.Repository
	eventBus  *EventBus
	validator *catalog.Validator
	settings  GraphSettings
	limiter   *semaphore.Weighted
	logger    logrus.FieldLogger

	// serializes writes so relation stitching sees a consistent catalog
	writeMu sync.Mutex
}

// NewCatalogService creates a new catalog service. All graph queries share
// one fetch limiter sized by settings.Concurrency.
func NewCatalogService(repo repository.Repository, eventBus *EventBus, settings GraphSettings, logger logrus.FieldLogger) (*CatalogService, error) {
	validator, err := catalog.NewValidator()
	if err != nil {
		return nil, err
	}
	if settings.Concurrency <= 0 {
		settings.Concurrency = cache.DefaultConcurrency
	}
	if settings.Defaults.RelationPairs == nil {
		settings.Defaults.RelationPairs = domain.DefaultRelationPairs()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &CatalogService{
		repo:      repo,
		eventBus:  eventBus,
		validator: validator,
		settings:  settings,
		limiter:   semaphore.NewWeighted(int64(settings.Concurrency)),
		logger:    logger,
	}, nil
}

// Settings returns the service's graph settings
func (s *CatalogService) Settings() GraphSettings {
	return s.settings
}

// Import parses descriptors from r and stores them.
//
// Every entity is validated before anything is written. With the replace
// strategy the catalog is cleared first.
func (s *CatalogService) Import(ctx context.Context, r io.Reader, format, strategy string) (*ImportResult, error) {
	c, err := codec.Lookup(format)
	if err != nil {
		return nil, err
	}
	entities, err := c.Parse(r)
	if err != nil {
		return nil, err
	}

	result, err := s.store(ctx, entities, strategy)
	if err != nil {
		return nil, err
	}
	result.Format = c.Format()
	return result, nil
}

// ImportFiles parses descriptor files in parallel and stores their entities
// in one write. Parse failures of all files are reported together.
func (s *CatalogService) ImportFiles(ctx context.Context, paths []string, strategy string) (*ImportResult, error) {
	parsed := make([][]*domain.Entity, len(paths))
	failures := make([]error, len(paths))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelParse)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			entities, err := ParseFile(path)
			if err != nil {
				failures[i] = err
				return nil
			}
			parsed[i] = entities
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merr *multierror.Error
	var entities []*domain.Entity
	for i := range paths {
		if failures[i] != nil {
			merr = multierror.Append(merr, failures[i])
			continue
		}
		entities = append(entities, parsed[i]...)
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}

	return s.store(ctx, entities, strategy)
}

// ParseFile reads the descriptors in a file, choosing the codec by extension
func ParseFile(path string) ([]*domain.Entity, error) {
	c, err := codec.ForPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog file")
	}
	defer f.Close()

	entities, err := c.Parse(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return entities, nil
}

func (s *CatalogService) store(ctx context.Context, entities []*domain.Entity, strategy string) (*ImportResult, error) {
	if strategy == "" {
		strategy = StrategyMerge
	}
	if strategy != StrategyMerge && strategy != StrategyReplace {
		return nil, errors.Errorf("invalid strategy %s, must be 'merge' or 'replace'", strategy)
	}

	if err := s.validator.ValidateAll(entities); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if strategy == StrategyReplace {
		if err := s.repo.Clear(ctx); err != nil {
			return nil, err
		}
	}
	if err := s.repo.UpsertEntities(ctx, entities); err != nil {
		return nil, err
	}
	relations, total, err := s.restitch(ctx)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		Entities:  len(entities),
		Relations: relations,
		Total:     total,
		Strategy:  strategy,
	}
	s.logger.WithFields(logrus.Fields{
		"count":     result.Entities,
		"relations": result.Relations,
		"strategy":  strategy,
	}).Info("Imported catalog entities")

	s.eventBus.Publish(Event{
		Type:    EventCatalogImported,
		Payload: result,
	})
	return result, nil
}

// restitch derives relations from every stored descriptor. Must be called
// with writeMu held. Returns the relation and entity counts.
func (s *CatalogService) restitch(ctx context.Context) (int, int, error) {
	descriptors, err := s.repo.ListDescriptors(ctx)
	if err != nil {
		return 0, 0, err
	}

	derived := catalog.DeriveRelations(descriptors, s.settings.Defaults.RelationPairs)
	if err := s.repo.ReplaceRelations(ctx, derived); err != nil {
		return 0, 0, err
	}

	n := 0
	for _, rels := range derived {
		n += len(rels)
	}
	return n, len(descriptors), nil
}

// Export writes every stored descriptor in the given format
func (s *CatalogService) Export(ctx context.Context, w io.Writer, format string) error {
	c, err := codec.Lookup(format)
	if err != nil {
		return err
	}
	entities, err := s.repo.ListDescriptors(ctx)
	if err != nil {
		return err
	}
	return c.Export(entities, w)
}

// Validate checks entities without storing them
func (s *CatalogService) Validate(entities []*domain.Entity) error {
	return s.validator.ValidateAll(entities)
}

// GetEntity returns a stored entity with its relations
func (s *CatalogService) GetEntity(ctx context.Context, ref string) (*domain.Entity, error) {
	return s.repo.GetEntity(ctx, ref)
}

// ListEntities returns stored entities, optionally of one kind
func (s *CatalogService) ListEntities(ctx context.Context, kind string) ([]*domain.Entity, error) {
	return s.repo.ListEntities(ctx, kind)
}

// DeleteEntity removes an entity and re-derives relations without it
func (s *CatalogService) DeleteEntity(ctx context.Context, ref string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.repo.DeleteEntity(ctx, ref); err != nil {
		return err
	}
	if _, _, err := s.restitch(ctx); err != nil {
		return err
	}

	s.eventBus.Publish(Event{
		Type:    EventEntityDeleted,
		Payload: map[string]string{"ref": domain.CanonicalRef(ref)},
	})
	return nil
}

// Clear removes every entity
func (s *CatalogService) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.repo.Clear(ctx); err != nil {
		return err
	}
	s.eventBus.Publish(Event{Type: EventCatalogCleared})
	return nil
}

// newCache creates a per-query entity cache over the repository, sharing the
// service's fetch limiter.
func (s *CatalogService) newCache() *cache.Cache {
	return cache.New(s.repo,
		cache.WithLimiter(s.limiter),
		cache.WithMaxEntries(s.settings.MaxEntries),
		cache.WithTTL(s.settings.TTL),
		cache.WithLogger(s.logger),
	)
}
