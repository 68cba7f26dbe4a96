package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kensaku/data/db/embeddings.db"
	}
	if cfg.Storage.GraphPath == "" {
		cfg.Storage.GraphPath = "/usr/local/var/kensaku/data/index/graph.gob"
	}
	if cfg.Storage.ManifestPath == "" {
		cfg.Storage.ManifestPath = "/usr/local/var/kensaku/data/index/manifest.json"
	}
	if cfg.Index.Dimension == 0 {
		cfg.Index.Dimension = 384
	}
	cfg.Index.Normalize()
	if cfg.Worker.DebounceSeconds == 0 {
		cfg.Worker.DebounceSeconds = 5
	}
	if cfg.Worker.MaxRestarts == 0 {
		cfg.Worker.MaxRestarts = 3
	}
	if cfg.Worker.RestartBackoffMillis == 0 {
		cfg.Worker.RestartBackoffMillis = 500
	}
}
