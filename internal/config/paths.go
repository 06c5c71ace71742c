package config

import (
	"os"
	"path/filepath"
)

const (
	// EnvConfigPath is the environment variable for explicit config path
	EnvConfigPath = "ENTITYGRAPH_CONFIG"
	// ConfigFileName is the config file name looked up in the working directory
	ConfigFileName = "entitygraph.yaml"
	// ConfigDirName is the config directory name under XDG and /etc
	ConfigDirName = "entitygraph"
	// DotEnvFile is loaded from the working directory when present
	DotEnvFile = ".env"
)

// SearchPaths returns the config file candidates in priority order:
// $ENTITYGRAPH_CONFIG, ./entitygraph.yaml, $XDG_CONFIG_HOME/entitygraph,
// ~/.config/entitygraph and /etc/entitygraph.
func SearchPaths() []string {
	var paths []string
	if path := os.Getenv(EnvConfigPath); path != "" {
		paths = append(paths, path)
	}
	paths = append(paths, ConfigFileName)
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		paths = append(paths, filepath.Join(xdgHome, ConfigDirName, "config.yaml"))
	}
	if home := os.Getenv("HOME"); home != "" {
		paths = append(paths, filepath.Join(home, ".config", ConfigDirName, "config.yaml"))
	}
	return append(paths, filepath.Join("/etc", ConfigDirName, "config.yaml"))
}

// FindConfigPath returns the first existing candidate from SearchPaths, made
// absolute, or "" when there is none
func FindConfigPath() string {
	for _, path := range SearchPaths() {
		if !fileExists(path) {
			continue
		}
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		}
		return path
	}
	return ""
}

// DefaultConfigPath returns where a new config file is written:
// $ENTITYGRAPH_CONFIG when set, else the user's XDG config directory, else
// the working directory
func DefaultConfigPath() string {
	switch {
	case os.Getenv(EnvConfigPath) != "":
		return os.Getenv(EnvConfigPath)
	case os.Getenv("XDG_CONFIG_HOME") != "":
		return filepath.Join(os.Getenv("XDG_CONFIG_HOME"), ConfigDirName, "config.yaml")
	case os.Getenv("HOME") != "":
		return filepath.Join(os.Getenv("HOME"), ".config", ConfigDirName, "config.yaml")
	}
	return ConfigFileName
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir(configPath string) error {
	return os.MkdirAll(filepath.Dir(configPath), 0755)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
