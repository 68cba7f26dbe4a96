package models

import "testing"

func TestSearchOptions_Normalize(t *testing.T) {
	tests := []struct {
		name          string
		opts          SearchOptions
		wantTopK      int
		wantThreshold float64
	}{
		{"defaults", SearchOptions{}, DefaultTopK, DefaultScoreThreshold},
		{"caps top k", SearchOptions{TopK: 500}, MaxTopK, DefaultScoreThreshold},
		{"keeps explicit values", SearchOptions{TopK: 5, ScoreThreshold: 0.7}, 5, 0.7},
		{"negative threshold disables filtering", SearchOptions{ScoreThreshold: -1}, DefaultTopK, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Normalize()
			if tt.opts.TopK != tt.wantTopK {
				t.Errorf("TopK = %d, want %d", tt.opts.TopK, tt.wantTopK)
			}
			if tt.opts.ScoreThreshold != tt.wantThreshold {
				t.Errorf("ScoreThreshold = %f, want %f", tt.opts.ScoreThreshold, tt.wantThreshold)
			}
		})
	}
}

func TestIndexConfig_Normalize(t *testing.T) {
	cfg := IndexConfig{Dimension: 384}
	cfg.Normalize()
	if cfg.M != 16 || cfg.EFConstruction != 200 || cfg.EFSearch != 50 || cfg.Capacity != 10000 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	explicit := IndexConfig{Dimension: 128, M: 32, EFConstruction: 400, EFSearch: 100, Capacity: 5}
	explicit.Normalize()
	if explicit.M != 32 || explicit.EFConstruction != 400 || explicit.EFSearch != 100 || explicit.Capacity != 5 {
		t.Errorf("explicit values overwritten: %+v", explicit)
	}
}
