// Package config provides configuration loading and structs for the Kensaku server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kensaku/internal/broker"
	"github.com/hyperjump/kensaku/internal/models"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool               `yaml:"debug"`
	Server  ServerConfig       `yaml:"server"`
	Storage StorageConfig      `yaml:"storage"`
	Index   models.IndexConfig `yaml:"index"`
	Worker  WorkerConfig       `yaml:"worker"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the database and the persisted index
// artifact.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	GraphPath    string `yaml:"graph_path"`
	ManifestPath string `yaml:"manifest_path"`
	WatchEnabled *bool  `yaml:"watch_enabled"`
}

// WatchEnabledOrDefault reports whether external change detection runs;
// defaults to true when unset.
func (s *StorageConfig) WatchEnabledOrDefault() bool {
	if s.WatchEnabled != nil {
		return *s.WatchEnabled
	}
	return true
}

// WorkerConfig holds the worker lifecycle and per-operation deadline
// settings. Durations are in seconds except the restart backoff.
type WorkerConfig struct {
	DebounceSeconds       int `yaml:"debounce_seconds"`
	MaxRestarts           int `yaml:"max_restarts"`
	RestartBackoffMillis  int `yaml:"restart_backoff_ms"`
	InitTimeoutSeconds    int `yaml:"init_timeout_seconds"`
	SearchTimeoutSeconds  int `yaml:"search_timeout_seconds"`
	InsertTimeoutSeconds  int `yaml:"insert_timeout_seconds"`
	BatchTimeoutSeconds   int `yaml:"batch_timeout_seconds"`
	RebuildTimeoutSeconds int `yaml:"rebuild_timeout_seconds"`
	StatsTimeoutSeconds   int `yaml:"stats_timeout_seconds"`
}

// Debounce returns the save debounce window.
func (w *WorkerConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceSeconds) * time.Second
}

// BrokerOptions converts the worker settings into broker options. Zero
// timeout fields fall back to the broker defaults.
func (w *WorkerConfig) BrokerOptions() broker.Options {
	return broker.Options{
		Timeouts: broker.Timeouts{
			Init:        time.Duration(w.InitTimeoutSeconds) * time.Second,
			Search:      time.Duration(w.SearchTimeoutSeconds) * time.Second,
			Insert:      time.Duration(w.InsertTimeoutSeconds) * time.Second,
			InsertBatch: time.Duration(w.BatchTimeoutSeconds) * time.Second,
			Rebuild:     time.Duration(w.RebuildTimeoutSeconds) * time.Second,
			Stats:       time.Duration(w.StatsTimeoutSeconds) * time.Second,
		},
		MaxRestarts:    w.MaxRestarts,
		RestartBackoff: time.Duration(w.RestartBackoffMillis) * time.Millisecond,
	}
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.GraphPath = expandPath(cfg.Storage.GraphPath, configDir)
	cfg.Storage.ManifestPath = expandPath(cfg.Storage.ManifestPath, configDir)

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
