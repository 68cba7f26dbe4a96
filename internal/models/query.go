package models

const (
	// DefaultTopK is the number of results returned when unset.
	DefaultTopK = 10
	// MaxTopK caps the number of results per search.
	MaxTopK = 100
	// DefaultScoreThreshold filters out weak matches when unset.
	DefaultScoreThreshold = 0.3
)

// SearchOptions holds the filters and limits for a nearest-neighbor search.
type SearchOptions struct {
	// LibraryIDs restricts results to chunks of the given libraries. Chunks
	// with no library recorded always pass the filter.
	LibraryIDs []string `json:"library_ids,omitempty"`
	// TopK is the maximum number of results. Zero means DefaultTopK.
	TopK int `json:"top_k,omitempty"`
	// ScoreThreshold drops results scoring below it. Zero means
	// DefaultScoreThreshold; pass a negative value to disable filtering.
	ScoreThreshold float64 `json:"score_threshold,omitempty"`
	// ExcludeChunkIDs are chunk IDs never returned (e.g. the query's own chunk).
	ExcludeChunkIDs []string `json:"exclude_chunk_ids,omitempty"`
}

// Normalize applies defaults and caps limits in place.
func (o *SearchOptions) Normalize() {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.TopK > MaxTopK {
		o.TopK = MaxTopK
	}
	if o.ScoreThreshold == 0 {
		o.ScoreThreshold = DefaultScoreThreshold
	}
}
