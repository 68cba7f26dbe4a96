package hnsw

import (
	"errors"
	"fmt"
)

// ErrInvalidLabel is returned when an operation references a label that was
// never assigned by this graph.
var ErrInvalidLabel = errors.New("invalid graph label")

// DimensionMismatchError reports a vector whose length does not match the
// graph's configured dimension.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}
