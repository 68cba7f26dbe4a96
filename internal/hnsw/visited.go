package hnsw

import "github.com/bits-and-blooms/bitset"

// visitedSet tracks labels already expanded during a layer search.
type visitedSet struct {
	bits *bitset.BitSet
}

func newVisitedSet(n int) *visitedSet {
	return &visitedSet{bits: bitset.New(uint(n))}
}

func (v *visitedSet) visit(label uint32) {
	v.bits.Set(uint(label))
}

func (v *visitedSet) seen(label uint32) bool {
	return v.bits.Test(uint(label))
}
