package models

// SearchResult is a single nearest-neighbor hit, ordered by the graph's
// native distance (nearest first). Score = 1 - cosine distance.
type SearchResult struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// IndexStats is the read-only introspection snapshot of the index. All
// fields are zero until initialization succeeds.
type IndexStats struct {
	Initialized  bool `json:"initialized"`
	Count        int  `json:"count"`
	Dimension    int  `json:"dimension"`
	MappingCount int  `json:"mapping_count"`
}

// IndexConfig holds the graph construction and search parameters. It is
// supplied at initialization and again on rebuild (e.g. for a dimension
// change).
type IndexConfig struct {
	Dimension      int `json:"dimension" yaml:"dimension"`
	Capacity       int `json:"capacity" yaml:"capacity"`
	M              int `json:"m" yaml:"m"`
	EFConstruction int `json:"ef_construction" yaml:"ef_construction"`
	EFSearch       int `json:"ef_search" yaml:"ef_search"`
}

// Normalize fills defaults for unset graph parameters.
func (c *IndexConfig) Normalize() {
	if c.Capacity <= 0 {
		c.Capacity = 10000
	}
	if c.M <= 0 {
		c.M = 16
	}
	if c.EFConstruction <= 0 {
		c.EFConstruction = 200
	}
	if c.EFSearch <= 0 {
		c.EFSearch = 50
	}
}
