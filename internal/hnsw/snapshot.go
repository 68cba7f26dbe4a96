package hnsw

import (
	"encoding/gob"
	"fmt"
	"io"
)

// graphState is the gob wire form of a Graph. The distance function is not
// serialized; a loaded graph always uses cosine distance.
type graphState struct {
	Dimension      int
	ML             float64
	EP             uint32
	MaxLevel       int
	M              int
	EFConstruction int
	Heuristic      bool
	Nodes          []nodeState
}

type nodeState struct {
	Vector      []float32
	Layer       int
	Connections [][]uint32
}

// SaveTo writes the graph as an opaque binary blob. Only LoadFrom with the
// same implementation can read it back.
func (g *Graph) SaveTo(w io.Writer) error {
	state := graphState{
		Dimension:      g.dimension,
		ML:             g.ml,
		EP:             g.ep,
		MaxLevel:       g.maxLevel,
		M:              g.opts.M,
		EFConstruction: g.opts.EFConstruction,
		Heuristic:      g.opts.Heuristic,
		Nodes:          make([]nodeState, len(g.nodes)),
	}
	for i, n := range g.nodes {
		state.Nodes[i] = nodeState{
			Vector:      n.vector,
			Layer:       n.layer,
			Connections: n.connections,
		}
	}
	if err := gob.NewEncoder(w).Encode(&state); err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	return nil
}

// LoadFrom reads a graph blob written by SaveTo.
func LoadFrom(r io.Reader) (*Graph, error) {
	var state graphState
	if err := gob.NewDecoder(r).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode graph: %w", err)
	}
	if len(state.Nodes) == 0 {
		return nil, fmt.Errorf("graph blob has no sentinel node")
	}

	opts := DefaultOptions
	opts.M = state.M
	opts.EFConstruction = state.EFConstruction
	opts.Heuristic = state.Heuristic

	g := &Graph{
		dimension: state.Dimension,
		mmax:      opts.M,
		mmax0:     2 * opts.M,
		ml:        state.ML,
		ep:        state.EP,
		maxLevel:  state.MaxLevel,
		nodes:     make([]*node, len(state.Nodes)),
		opts:      opts,
	}
	for i, ns := range state.Nodes {
		g.nodes[i] = &node{
			vector:      ns.Vector,
			layer:       ns.Layer,
			connections: ns.Connections,
		}
	}
	return g, nil
}
