// Package hnsw implements a Hierarchical Navigable Small World graph over
// cosine distance. Labels are assigned monotonically on insert and are never
// reused; label 0 is a sentinel entry node that is never returned from
// searches.
package hnsw

import (
	"container/heap"
	"math"
	"math/rand"

	"github.com/hyperjump/kensaku/internal/vector"
)

// DistanceFunc computes the distance between two vectors.
type DistanceFunc func(a, b []float32) (float32, error)

// Options holds the graph construction parameters.
type Options struct {
	// M is the number of established connections per element during
	// construction (graph degree). The range 12-48 suits most embedding
	// workloads.
	M int

	// EFConstruction is the size of the dynamic candidate list while
	// building the graph. Larger values improve quality at build cost.
	EFConstruction int

	// Heuristic selects the neighbour-selection heuristic over naive
	// nearest-M linking.
	Heuristic bool

	// Distance is the distance function. Defaults to cosine distance.
	Distance DistanceFunc
}

// DefaultOptions are the construction defaults used when an option is unset.
var DefaultOptions = Options{
	M:              16,
	EFConstruction: 200,
	Heuristic:      true,
	Distance:       vector.CosineDistance,
}

// Candidate is one search hit: a label and its distance to the query.
type Candidate struct {
	Label    uint32
	Distance float32
}

type node struct {
	connections [][]uint32
	vector      []float32
	layer       int
}

// Graph is a cosine-distance HNSW index. It is not safe for concurrent use;
// the worker boundary serializes all access.
type Graph struct {
	dimension int
	mmax      int     // max connections per element per layer
	mmax0     int     // max connections on layer 0
	ml        float64 // normalization factor for level generation
	ep        uint32  // entry point
	maxLevel  int
	nodes     []*node
	opts      Options
}

// New creates an empty graph for vectors of the given dimension. Capacity
// preallocates node storage.
func New(dimension, capacity int, optFns ...func(o *Options)) *Graph {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.M < 2 {
		// M == 1 would make the level normalization factor divide by zero.
		opts.M = 2
	}
	if opts.EFConstruction <= 0 {
		opts.EFConstruction = DefaultOptions.EFConstruction
	}
	if opts.Distance == nil {
		opts.Distance = vector.CosineDistance
	}

	nodes := make([]*node, 1, capacity+1)
	nodes[0] = &node{
		vector:      make([]float32, dimension),
		layer:       0,
		connections: make([][]uint32, 2*opts.M+1),
	}

	return &Graph{
		dimension: dimension,
		mmax:      opts.M,
		mmax0:     2 * opts.M,
		ml:        1 / math.Log(float64(opts.M)),
		nodes:     nodes,
		opts:      opts,
	}
}

// Len returns the number of inserted elements, excluding the sentinel.
func (g *Graph) Len() int {
	return len(g.nodes) - 1
}

// Dimension returns the configured vector dimension.
func (g *Graph) Dimension() int {
	return g.dimension
}

// NextLabel returns the label the next Insert will assign.
func (g *Graph) NextLabel() uint32 {
	return uint32(len(g.nodes))
}

// Insert adds a vector and returns its freshly assigned label. The vector is
// copied; callers keep ownership of v.
func (g *Graph) Insert(v []float32) (uint32, error) {
	if len(v) != g.dimension {
		return 0, &DimensionMismatchError{Expected: g.dimension, Actual: len(v)}
	}

	vec := make([]float32, len(v))
	copy(vec, v)

	id := uint32(len(g.nodes))
	layer := int(math.Floor(-math.Log(rand.Float64()) * g.ml))

	n := &node{
		vector:      vec,
		layer:       layer,
		connections: make([][]uint32, layer+1),
	}

	entry, dist, err := g.descendToLayer(vec, layer)
	if err != nil {
		return 0, err
	}

	top := &priorityQueue{}
	for level := min(layer, g.maxLevel); level >= 0; level-- {
		if err := g.searchLayer(vec, &queueItem{label: entry, distance: dist}, top, g.opts.EFConstruction, level); err != nil {
			return 0, err
		}

		if g.opts.Heuristic {
			if err := g.selectNeighboursHeuristic(top, g.opts.M, false); err != nil {
				return 0, err
			}
		} else {
			selectNeighboursSimple(top, g.opts.M)
		}

		n.connections[level] = make([]uint32, top.Len())
		for i := top.Len() - 1; i >= 0; i-- {
			item, _ := heap.Pop(top).(*queueItem)
			n.connections[level][i] = item.label
		}
	}

	g.nodes = append(g.nodes, n)

	// Link neighbours back to the new node, making it reachable.
	for level := min(layer, g.maxLevel); level >= 0; level-- {
		for _, neighbour := range n.connections[level] {
			if err := g.link(neighbour, id, level); err != nil {
				return 0, err
			}
		}
	}

	if layer > g.maxLevel {
		g.ep = id
		g.maxLevel = layer
	}

	return id, nil
}

// Replace overwrites the vector stored at an existing label in place. The
// graph links are kept; this is the upsert path for a re-inserted chunk.
func (g *Graph) Replace(label uint32, v []float32) error {
	if len(v) != g.dimension {
		return &DimensionMismatchError{Expected: g.dimension, Actual: len(v)}
	}
	if label == 0 || int(label) >= len(g.nodes) {
		return ErrInvalidLabel
	}
	copy(g.nodes[label].vector, v)
	return nil
}

// Vector returns a copy of the vector stored at label.
func (g *Graph) Vector(label uint32) ([]float32, bool) {
	if label == 0 || int(label) >= len(g.nodes) {
		return nil, false
	}
	out := make([]float32, g.dimension)
	copy(out, g.nodes[label].vector)
	return out, true
}

// Search returns up to k candidates ordered by ascending distance. The
// sentinel node is never returned. An empty graph yields no candidates.
func (g *Graph) Search(q []float32, k, efSearch int) ([]Candidate, error) {
	if len(q) != g.dimension {
		return nil, &DimensionMismatchError{Expected: g.dimension, Actual: len(q)}
	}
	if g.Len() == 0 || k <= 0 {
		return nil, nil
	}
	if efSearch < k {
		efSearch = k
	}

	entry, dist, err := g.descendToLayer(q, 0)
	if err != nil {
		return nil, err
	}

	top := &priorityQueue{}
	if err := g.searchLayer(q, &queueItem{label: entry, distance: dist}, top, efSearch, 0); err != nil {
		return nil, err
	}

	// The working set is a max-heap; shrink to k then drain into ascending
	// order, dropping the sentinel if it surfaced.
	for top.Len() > k+1 {
		heap.Pop(top)
	}
	out := make([]Candidate, 0, min(top.Len(), k))
	buf := make([]Candidate, 0, top.Len())
	for top.Len() > 0 {
		item, _ := heap.Pop(top).(*queueItem)
		if item.label == 0 {
			continue
		}
		buf = append(buf, Candidate{Label: item.label, Distance: item.distance})
	}
	for i := len(buf) - 1; i >= 0 && len(out) < k; i-- {
		out = append(out, buf[i])
	}
	return out, nil
}

// descendToLayer walks greedily from the entry point down to the given
// layer, returning the closest node seen and its distance to q.
func (g *Graph) descendToLayer(q []float32, layer int) (uint32, float32, error) {
	curr := g.ep
	dist, err := g.opts.Distance(g.nodes[curr].vector, q)
	if err != nil {
		return 0, 0, err
	}

	for level := g.nodes[curr].layer; level > layer; level-- {
		changed := true
		for changed {
			changed = false
			conns := g.nodes[curr].connections
			if level >= len(conns) {
				continue
			}
			for _, cand := range conns[level] {
				d, err := g.opts.Distance(g.nodes[cand].vector, q)
				if err != nil {
					return 0, 0, err
				}
				if d < dist {
					curr = cand
					dist = d
					changed = true
				}
			}
		}
	}

	return curr, dist, nil
}

// searchLayer runs a best-first search in one layer, leaving up to ef
// candidates in top (a max-heap by distance).
func (g *Graph) searchLayer(q []float32, entry *queueItem, top *priorityQueue, ef, level int) error {
	visited := newVisitedSet(len(g.nodes))
	visited.visit(entry.label)

	candidates := &priorityQueue{}
	heap.Init(candidates)
	heap.Push(candidates, entry)

	top.descending = true
	heap.Init(top)
	heap.Push(top, entry)

	for candidates.Len() > 0 {
		lowerBound := top.top().distance

		candidate, _ := heap.Pop(candidates).(*queueItem)
		if candidate.distance > lowerBound {
			break
		}

		n := g.nodes[candidate.label]
		if level >= len(n.connections) {
			continue
		}
		for _, next := range n.connections[level] {
			if visited.seen(next) {
				continue
			}
			visited.visit(next)

			d, err := g.opts.Distance(q, g.nodes[next].vector)
			if err != nil {
				return err
			}

			item := &queueItem{label: next, distance: d}
			if top.Len() < ef {
				heap.Push(top, item)
				heap.Push(candidates, item)
			} else if top.top().distance > d {
				heap.Pop(top)
				heap.Push(top, item)
				heap.Push(candidates, item)
			}
		}
	}

	return nil
}

// link connects first -> second at the given level, pruning back to the
// layer's connection cap when exceeded.
func (g *Graph) link(first, second uint32, level int) error {
	maxConnections := g.mmax
	if level == 0 {
		maxConnections = g.mmax0
	}

	n := g.nodes[first]
	if level >= len(n.connections) {
		grown := make([][]uint32, level+1)
		copy(grown, n.connections)
		n.connections = grown
	}
	n.connections[level] = append(n.connections[level], second)

	if len(n.connections[level]) <= maxConnections {
		return nil
	}

	top := &priorityQueue{}
	heap.Init(top)
	for _, id := range n.connections[level] {
		d, err := g.opts.Distance(n.vector, g.nodes[id].vector)
		if err != nil {
			return err
		}
		heap.Push(top, &queueItem{label: id, distance: d})
	}

	if g.opts.Heuristic {
		if err := g.selectNeighboursHeuristic(top, maxConnections, true); err != nil {
			return err
		}
	} else {
		selectNeighboursSimple(top, maxConnections)
	}

	n.connections[level] = make([]uint32, maxConnections)
	for i := maxConnections - 1; i >= 0; i-- {
		item, _ := heap.Pop(top).(*queueItem)
		n.connections[level][i] = item.label
	}

	return nil
}

// selectNeighboursSimple keeps the nearest m candidates.
func selectNeighboursSimple(top *priorityQueue, m int) {
	for top.Len() > m {
		heap.Pop(top)
	}
}

// selectNeighboursHeuristic keeps candidates that are closer to the base
// point than to any already-selected neighbour, improving graph diversity.
func (g *Graph) selectNeighboursHeuristic(top *priorityQueue, m int, descending bool) error {
	if top.Len() < m {
		return nil
	}

	working := top
	if !descending {
		working = &priorityQueue{descending: descending}
		heap.Init(working)
		for top.Len() > 0 {
			item, _ := heap.Pop(top).(*queueItem)
			heap.Push(working, item)
		}
	}

	overflow := &priorityQueue{descending: descending}
	heap.Init(overflow)

	selected := make([]*queueItem, 0, m)
	for working.Len() > 0 && len(selected) < m {
		item, _ := heap.Pop(working).(*queueItem)

		keep := true
		for _, s := range selected {
			d, err := g.opts.Distance(g.nodes[s.label].vector, g.nodes[item.label].vector)
			if err != nil {
				return err
			}
			if d < item.distance {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, item)
		} else {
			heap.Push(overflow, item)
		}
	}

	for len(selected) < m && overflow.Len() > 0 {
		item, _ := heap.Pop(overflow).(*queueItem)
		selected = append(selected, item)
	}

	for _, item := range selected {
		heap.Push(top, item)
	}

	return nil
}
