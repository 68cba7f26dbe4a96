package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "./data/embeddings.db"
index:
  dimension: 768
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Index.Dimension != 768 {
		t.Errorf("dimension = %d, want 768", cfg.Index.Dimension)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_appliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("debug: true\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Index.Dimension != 384 || cfg.Index.M != 16 || cfg.Index.EFConstruction != 200 {
		t.Errorf("unexpected index defaults: %+v", cfg.Index)
	}
	if cfg.Worker.DebounceSeconds != 5 || cfg.Worker.MaxRestarts != 3 {
		t.Errorf("unexpected worker defaults: %+v", cfg.Worker)
	}
	if !cfg.Storage.WatchEnabledOrDefault() {
		t.Error("watch should default to enabled")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  database_path: "./data/embeddings.db"
  graph_path: "./data/graph.gob"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(cfg.Storage.DatabasePath, dir) {
		t.Errorf("database_path %q not expanded into %q", cfg.Storage.DatabasePath, dir)
	}
	if !strings.HasPrefix(cfg.Storage.GraphPath, dir) {
		t.Errorf("graph_path %q not expanded into %q", cfg.Storage.GraphPath, dir)
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestWorkerConfig_BrokerOptions(t *testing.T) {
	w := WorkerConfig{
		MaxRestarts:          2,
		RestartBackoffMillis: 250,
		SearchTimeoutSeconds: 7,
	}
	opts := w.BrokerOptions()
	if opts.MaxRestarts != 2 {
		t.Errorf("max restarts = %d, want 2", opts.MaxRestarts)
	}
	if opts.RestartBackoff != 250*time.Millisecond {
		t.Errorf("backoff = %v, want 250ms", opts.RestartBackoff)
	}
	if opts.Timeouts.Search != 7*time.Second {
		t.Errorf("search timeout = %v, want 7s", opts.Timeouts.Search)
	}
	if opts.Timeouts.Init != 0 {
		t.Errorf("unset init timeout = %v, want 0 (broker default applies)", opts.Timeouts.Init)
	}
}
