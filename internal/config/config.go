// Package config provides configuration management for entitygraph.
//
// Configuration is layered, later layers winning:
//  1. Built-in defaults
//  2. The YAML config file (see SearchPaths)
//  3. Variables from ./.env, which never override the real environment
//  4. ENTITYGRAPH_* environment variables
package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"entitygraph/internal/cache"
	"entitygraph/internal/domain"
	"entitygraph/internal/relgraph"
)

// Load finds and loads the config file, or starts from defaults if none is
// found. explicitPath, when set, must exist. Returns the file used, if any.
func Load(explicitPath string) (*Config, string, error) {
	path := explicitPath
	if path == "" {
		path = FindConfigPath()
	}

	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, path, err
		}
	}

	if err := loadDotEnv(DotEnvFile); err != nil {
		return nil, path, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, path, errors.Wrap(err, "parse environment")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// LoadFromPath loads config from a specific path without consulting the
// environment
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	return nil
}

func loadDotEnv(path string) error {
	if !fileExists(path) {
		return nil
	}
	return errors.Wrapf(godotenv.Load(path), "load %s", path)
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return errors.Wrap(err, "create config dir")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Database: DatabaseConfig{Path: "./entitygraph.db"},
		Catalog: CatalogConfig{
			Debounce: Duration(500 * time.Millisecond),
		},
		Cache: CacheConfig{
			Concurrency: cache.DefaultConcurrency,
		},
		Graph: GraphConfig{
			MaxDepth:       -1,
			Unidirectional: true,
			MergeRelations: true,
			Debounce:       Duration(relgraph.DefaultDebounce),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyDefaults fills in values a config file may have zeroed
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}
	if c.Database.Path == "" {
		c.Database.Path = defaults.Database.Path
	}
	if c.Cache.Concurrency <= 0 {
		c.Cache.Concurrency = defaults.Cache.Concurrency
	}
	if c.Graph.Debounce <= 0 {
		c.Graph.Debounce = defaults.Graph.Debounce
	}
	if c.Catalog.Debounce <= 0 {
		c.Catalog.Debounce = defaults.Catalog.Debounce
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var result *multierror.Error

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "log.level"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		result = multierror.Append(result, errors.Errorf("log.format: %q must be text or json", c.Log.Format))
	}
	if c.Cache.MaxEntries < 0 {
		result = multierror.Append(result, errors.New("cache.max_entries: must not be negative"))
	}
	if c.Cache.TTL < 0 {
		result = multierror.Append(result, errors.New("cache.ttl: must not be negative"))
	}
	for i, pair := range c.Graph.RelationPairs {
		if pair.Forward == "" || pair.Reverse == "" {
			result = multierror.Append(result, errors.Errorf("graph.relation_pairs[%d]: forward and reverse are required", i))
		}
	}

	return result.ErrorOrNil()
}

// GraphOptions returns the configured graph query defaults
func (c *Config) GraphOptions() relgraph.Options {
	opts := relgraph.DefaultOptions()
	opts.MaxDepth = c.Graph.MaxDepth
	opts.Unidirectional = c.Graph.Unidirectional
	opts.MergeRelations = c.Graph.MergeRelations
	if len(c.Graph.RelationPairs) > 0 {
		opts.RelationPairs = append([]domain.RelationPair(nil), c.Graph.RelationPairs...)
	}
	return opts
}

// NewLogger builds the logger described by the log section
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log.level")
	}

	logger := logrus.New()
	logger.SetLevel(level)
	if strings.EqualFold(c.Log.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
