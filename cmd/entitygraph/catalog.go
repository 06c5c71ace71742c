package main

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"entitygraph/internal/catalog"
	"entitygraph/internal/domain"
	"entitygraph/internal/repository/sqlite"
	"entitygraph/internal/service"
)

var (
	importStrategy string
	importDB       string

	importCmd = &cobra.Command{
		Use:   "import <file>...",
		Short: "Import descriptor files into the database",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}

	validateCmd = &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check descriptor files without storing them",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runValidate,
	}
)

func init() {
	importCmd.Flags().StringVar(&importStrategy, "strategy", service.StrategyMerge, "merge or replace the stored catalog")
	importCmd.Flags().StringVar(&importDB, "db", "", "SQLite database path (overrides config)")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if importDB != "" {
		cfg.Database.Path = importDB
	}

	repo, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	defer repo.Close()

	svc, err := service.NewCatalogService(repo, service.NewEventBus(), newGraphSettings(cfg), logger)
	if err != nil {
		return err
	}
	result, err := svc.ImportFiles(cmd.Context(), args, importStrategy)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "imported %d entities (%d relations, %d stored)\n",
		result.Entities, result.Relations, result.Total)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	entities, err := parseFiles(args)
	if err != nil {
		return err
	}
	validator, err := catalog.NewValidator()
	if err != nil {
		return err
	}
	if err := validator.ValidateAll(entities); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d entities valid\n", len(entities))
	return nil
}

// parseFiles reads every file, reporting all parse failures together
func parseFiles(paths []string) ([]*domain.Entity, error) {
	var merr *multierror.Error
	var entities []*domain.Entity
	for _, path := range paths {
		parsed, err := service.ParseFile(path)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		entities = append(entities, parsed...)
	}
	return entities, merr.ErrorOrNil()
}
