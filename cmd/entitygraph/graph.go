package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"entitygraph/internal/cache"
	"entitygraph/internal/catalog"
	"entitygraph/internal/codec"
	"entitygraph/internal/config"
	"entitygraph/internal/domain"
	"entitygraph/internal/relgraph"
	"entitygraph/internal/repository/sqlite"
	"entitygraph/internal/service"
)

var (
	graphRoots     []string
	graphDepth     int
	graphRelations []string
	graphKinds     []string
	graphFormat    string
	graphFiles     []string
	graphDB        string
	graphBoth      bool
	graphMerge     bool

	graphCmd = &cobra.Command{
		Use:   "graph",
		Short: "Resolve and print the relation graph around root entities",
		Example: `  entitygraph graph --root component:default/checkout --depth 2
  entitygraph graph --file catalog.yaml --root group:team-a --format yaml`,
		Args: cobra.NoArgs,
		RunE: runGraph,
	}
)

func init() {
	f := graphCmd.Flags()
	f.StringSliceVarP(&graphRoots, "root", "r", nil, "root entity reference (repeatable)")
	f.IntVarP(&graphDepth, "depth", "d", -1, "maximum relation hops from the roots (negative for no limit)")
	f.StringSliceVar(&graphRelations, "relation", nil, "only follow these relation types")
	f.StringSliceVar(&graphKinds, "kind", nil, "only follow relations whose target is one of these kinds")
	f.StringVarP(&graphFormat, "format", "o", "json", "output format (json or yaml)")
	f.StringSliceVarP(&graphFiles, "file", "f", nil, "resolve from descriptor files instead of the database")
	f.StringVar(&graphDB, "db", "", "SQLite database path (overrides config)")
	f.BoolVar(&graphBoth, "bidirectional", false, "keep edges in both directions")
	f.BoolVar(&graphMerge, "merge", true, "render a relation and its inverse as one edge (overrides config)")
	graphCmd.MarkFlagRequired("root")
}

func runGraph(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	out, err := codec.Lookup(graphFormat)
	if err != nil {
		return err
	}

	q := service.GraphQuery{
		Roots:         graphRoots,
		RelationTypes: graphRelations,
		Kinds:         graphKinds,
	}
	if cmd.Flags().Changed("depth") {
		q.MaxDepth = &graphDepth
	}
	if cmd.Flags().Changed("bidirectional") {
		uni := !graphBoth
		q.Unidirectional = &uni
	}
	if cmd.Flags().Changed("merge") {
		q.MergeRelations = &graphMerge
	}

	ctx := cmd.Context()
	var result *relgraph.Result
	if len(graphFiles) > 0 {
		result, err = resolveFromFiles(ctx, cfg, logger, q)
	} else {
		result, err = resolveFromStore(ctx, cfg, logger, q)
	}
	if err != nil {
		return err
	}
	if result.Err != nil {
		logger.WithError(result.Err).Warn("Some entities could not be loaded")
	}

	return out.EncodeGraph(result.Graph, cmd.OutOrStdout())
}

func resolveFromStore(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger, q service.GraphQuery) (*relgraph.Result, error) {
	path := cfg.Database.Path
	if graphDB != "" {
		path = graphDB
	}
	repo, err := sqlite.New(path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	defer repo.Close()

	svc, err := service.NewCatalogService(repo, service.NewEventBus(), newGraphSettings(cfg), logger)
	if err != nil {
		return nil, err
	}
	return svc.Graph(ctx, q)
}

// resolveFromFiles stitches the descriptors in memory and resolves over them
func resolveFromFiles(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger, q service.GraphQuery) (*relgraph.Result, error) {
	entities, err := parseFiles(graphFiles)
	if err != nil {
		return nil, err
	}
	validator, err := catalog.NewValidator()
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateAll(entities); err != nil {
		return nil, err
	}

	opts := q.Options(cfg.GraphOptions())
	byRef := make(map[string]*domain.Entity, len(entities))
	for _, e := range catalog.Stitch(entities, opts.RelationPairs) {
		byRef[e.Ref().String()] = e
	}

	source := cache.SourceFunc(func(ctx context.Context, ref string) (*domain.Entity, error) {
		return byRef[domain.CanonicalRef(ref)], nil
	})
	c := cache.New(source, cache.WithConcurrency(cfg.Cache.Concurrency), cache.WithLogger(logger))
	return relgraph.NewResolver(c, logger).Resolve(ctx, q.Roots, opts)
}
