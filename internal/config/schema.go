package config

import (
	"time"

	"entitygraph/internal/domain"
)

// Config is the complete server and CLI configuration
type Config struct {
	Version  int            `yaml:"version"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Cache    CacheConfig    `yaml:"cache"`
	Graph    GraphConfig    `yaml:"graph"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr            string   `yaml:"addr" env:"ENTITYGRAPH_ADDR"`
	CORSOrigins     []string `yaml:"cors_origins,omitempty" env:"ENTITYGRAPH_CORS_ORIGINS" envSeparator:","`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" env:"ENTITYGRAPH_SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `yaml:"path" env:"ENTITYGRAPH_DB"`
}

// CatalogConfig lists descriptor files loaded at startup
type CatalogConfig struct {
	Files    []string `yaml:"files,omitempty" env:"ENTITYGRAPH_CATALOG_FILES" envSeparator:","`
	Watch    bool     `yaml:"watch" env:"ENTITYGRAPH_CATALOG_WATCH"`
	Debounce Duration `yaml:"debounce" env:"ENTITYGRAPH_CATALOG_DEBOUNCE"`
}

// CacheConfig bounds the per-query entity caches
type CacheConfig struct {
	// Concurrency is shared by all queries
	Concurrency int      `yaml:"concurrency" env:"ENTITYGRAPH_FETCH_CONCURRENCY"`
	MaxEntries  int      `yaml:"max_entries" env:"ENTITYGRAPH_CACHE_MAX_ENTRIES"`
	TTL         Duration `yaml:"ttl" env:"ENTITYGRAPH_CACHE_TTL"`
}

// GraphConfig holds graph query defaults
type GraphConfig struct {
	// MaxDepth below zero is unlimited
	MaxDepth       int                   `yaml:"max_depth" env:"ENTITYGRAPH_MAX_DEPTH"`
	Unidirectional bool                  `yaml:"unidirectional" env:"ENTITYGRAPH_UNIDIRECTIONAL"`
	MergeRelations bool                  `yaml:"merge_relations" env:"ENTITYGRAPH_MERGE_RELATIONS"`
	Debounce       Duration              `yaml:"debounce" env:"ENTITYGRAPH_GRAPH_DEBOUNCE"`
	RelationPairs  []domain.RelationPair `yaml:"relation_pairs,omitempty"`
}

// LogConfig selects the log level and format
type LogConfig struct {
	Level  string `yaml:"level" env:"ENTITYGRAPH_LOG_LEVEL"`
	Format string `yaml:"format" env:"ENTITYGRAPH_LOG_FORMAT"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText implements encoding.TextUnmarshaler, used for environment
// overrides
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
