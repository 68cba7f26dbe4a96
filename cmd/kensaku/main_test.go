package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseQueryVector(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		wantLen int
		wantErr bool
	}{
		{"inline array", "[0.1, -0.4, 0.9]", 3, false},
		{"integers accepted", "[1, 0, 0]", 3, false},
		{"empty array", "[]", 0, true},
		{"not json", "hello", 0, true},
		{"object rejected", `{"query": [1]}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vec, err := parseQueryVector(tt.arg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseQueryVector(%q) succeeded, want error", tt.arg)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseQueryVector(%q): %v", tt.arg, err)
			}
			if len(vec) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(vec), tt.wantLen)
			}
		})
	}
}

func TestParseQueryVector_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "query.json")
	if err := os.WriteFile(path, []byte("[0.5, 0.5]"), 0600); err != nil {
		t.Fatal(err)
	}
	vec, err := parseQueryVector("@" + path)
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Errorf("vec = %v", vec)
	}

	if _, err := parseQueryVector("@" + filepath.Join(dir, "missing.json")); err == nil {
		t.Error("missing file should error")
	}
}

func TestLoadConfig_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != path {
		t.Errorf("resolved = %q, want %q", resolved, path)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
}
