package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"entitygraph/internal/config"
)

var (
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "entitygraph",
		Short: "Resolve relation graphs over a software catalog",
		Long: `entitygraph stores catalog entity descriptors, stitches their
relations and resolves the graph of entities reachable from a set of roots.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: search $ENTITYGRAPH_CONFIG, ./entitygraph.yaml, XDG, /etc)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level")

	rootCmd.AddCommand(serveCmd, graphCmd, importCmd, validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads configuration and builds the logger it describes
func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, path, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	if path != "" {
		logger.WithField("path", path).Debug("Loaded config file")
	}
	return cfg, logger, nil
}
