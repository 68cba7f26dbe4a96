// Package vector provides the packed binary codec and similarity helpers for
// fixed-dimension float32 embedding vectors. The blob format (little-endian,
// 4 bytes per component) is shared by the store and the index artifact.
package vector

import (
	"encoding/binary"
	"fmt"
	"math"
)

const componentSize = 4

// Encode packs a float32 vector into a little-endian byte blob.
func Encode(v []float32) []byte {
	out := make([]byte, len(v)*componentSize)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*componentSize:(i+1)*componentSize], math.Float32bits(x))
	}
	return out
}

// Decode unpacks a blob produced by Encode. Returns an error if the blob
// length is not a multiple of the component size.
func Decode(b []byte) ([]float32, error) {
	if len(b)%componentSize != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of %d", len(b), componentSize)
	}
	out := make([]float32, len(b)/componentSize)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*componentSize : (i+1)*componentSize]))
	}
	return out, nil
}
