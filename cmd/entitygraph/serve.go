package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"entitygraph/internal/config"
	"entitygraph/internal/handler"
	"entitygraph/internal/hub"
	"entitygraph/internal/repository/sqlite"
	"entitygraph/internal/service"
	"entitygraph/internal/watcher"
)

var (
	serveAddr string
	serveDB   string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "SQLite database path (overrides config)")
}

// newGraphSettings maps config onto the service's graph settings
func newGraphSettings(cfg *config.Config) service.GraphSettings {
	settings := service.DefaultGraphSettings()
	settings.Defaults = cfg.GraphOptions()
	settings.Debounce = cfg.Graph.Debounce.Duration()
	settings.Concurrency = cfg.Cache.Concurrency
	settings.MaxEntries = cfg.Cache.MaxEntries
	settings.TTL = cfg.Cache.TTL.Duration()
	return settings
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveDB != "" {
		cfg.Database.Path = serveDB
	}

	logger.Info("Starting entitygraph server...")

	// Initialize SQLite repository
	repo, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	defer repo.Close()
	logger.WithField("path", cfg.Database.Path).Info("Database opened")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize event bus and connect it to the SSE hub
	eventBus := service.NewEventBus()
	sseHub := hub.New(logger)
	go sseHub.Run(ctx)

	eventChan := make(chan service.Event, 100)
	eventBus.Subscribe(eventChan)
	defer eventBus.Unsubscribe(eventChan)
	go hub.Forward[service.Event](ctx, sseHub, eventChan)

	svc, err := service.NewCatalogService(repo, eventBus, newGraphSettings(cfg), logger)
	if err != nil {
		return err
	}

	if len(cfg.Catalog.Files) > 0 {
		loadCatalogFiles(ctx, svc, cfg.Catalog.Files, logger)
		if cfg.Catalog.Watch {
			w := watcher.New(cfg.Catalog.Files, func(path string) {
				loadCatalogFiles(ctx, svc, []string{path}, logger)
			}).WithDebounce(cfg.Catalog.Debounce.Duration()).WithLogger(logger)
			go func() {
				if err := w.Watch(ctx); err != nil {
					logger.WithError(err).Warn("Catalog watcher stopped")
				}
			}()
		}
	}

	// Apply middleware
	finalHandler := handler.Chain(handler.NewRouter(svc, sseHub, logger),
		handler.Recover(logger),
		handler.CORS(cfg.Server.CORSOrigins),
		handler.Logger(logger),
	)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           finalHandler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// streams end with the process context
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Server.Addr).Info("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return errors.Wrap(err, "server error")
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Server shutdown error")
	}

	logger.Info("Server stopped")
	return nil
}

// loadCatalogFiles merges descriptor files into the store, logging failures
func loadCatalogFiles(ctx context.Context, svc *service.CatalogService, paths []string, logger logrus.FieldLogger) {
	result, err := svc.ImportFiles(ctx, paths, service.StrategyMerge)
	if err != nil {
		logger.WithError(err).WithField("files", paths).Error("Failed to load catalog files")
		return
	}
	logger.WithFields(logrus.Fields{
		"files":    len(paths),
		"entities": result.Entities,
	}).Info("Loaded catalog files")
}
