package hnsw

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"
)

func randomVectors(n, dim int, seed int64) [][]float32 {
	r := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, dim)
		for j := range out[i] {
			out[i][j] = r.Float32()
		}
	}
	return out
}

func TestGraph_InsertAssignsMonotonicLabels(t *testing.T) {
	g := New(4, 10)
	for i, v := range randomVectors(5, 4, 1) {
		label, err := g.Insert(v)
		if err != nil {
			t.Fatal(err)
		}
		if label != uint32(i+1) {
			t.Errorf("insert %d: label = %d, want %d", i, label, i+1)
		}
	}
	if g.Len() != 5 {
		t.Errorf("Len = %d, want 5", g.Len())
	}
	if g.NextLabel() != 6 {
		t.Errorf("NextLabel = %d, want 6", g.NextLabel())
	}
}

func TestGraph_InsertDimensionMismatch(t *testing.T) {
	g := New(4, 10)
	_, err := g.Insert([]float32{1, 2})
	var dm *DimensionMismatchError
	if err == nil {
		t.Fatal("expected dimension mismatch")
	}
	if !errors.As(err, &dm) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
	if dm.Expected != 4 || dm.Actual != 2 {
		t.Errorf("unexpected error fields: %+v", dm)
	}
}

func TestGraph_SearchSelfSimilarity(t *testing.T) {
	g := New(8, 100)
	vecs := randomVectors(50, 8, 42)
	labels := make([]uint32, len(vecs))
	for i, v := range vecs {
		label, err := g.Insert(v)
		if err != nil {
			t.Fatal(err)
		}
		labels[i] = label
	}

	for i, v := range vecs {
		results, err := g.Search(v, 1, 50)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) == 0 {
			t.Fatalf("vector %d: no results", i)
		}
		if results[0].Label != labels[i] {
			t.Errorf("vector %d: nearest label = %d, want %d", i, results[0].Label, labels[i])
		}
		if math.Abs(float64(results[0].Distance)) > 1e-5 {
			t.Errorf("vector %d: self distance = %f, want ~0", i, results[0].Distance)
		}
	}
}

func TestGraph_SearchOrderedAscending(t *testing.T) {
	g := New(8, 100)
	for _, v := range randomVectors(80, 8, 7) {
		if _, err := g.Insert(v); err != nil {
			t.Fatal(err)
		}
	}
	q := randomVectors(1, 8, 99)[0]
	results, err := g.Search(q, 10, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Errorf("results not ascending at %d: %f < %f", i, results[i].Distance, results[i-1].Distance)
		}
	}
	for _, r := range results {
		if r.Label == 0 {
			t.Error("sentinel label returned from search")
		}
	}
}

func TestGraph_SearchEmpty(t *testing.T) {
	g := New(4, 10)
	results, err := g.Search([]float32{1, 0, 0, 0}, 5, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results on empty graph, got %d", len(results))
	}
}

func TestGraph_Replace(t *testing.T) {
	g := New(2, 10)
	label, err := g.Insert([]float32{1, 0})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Replace(label, []float32{0, 1}); err != nil {
		t.Fatal(err)
	}
	v, ok := g.Vector(label)
	if !ok {
		t.Fatal("vector not found after replace")
	}
	if v[0] != 0 || v[1] != 1 {
		t.Errorf("replace did not take effect: %v", v)
	}
	if g.Len() != 1 {
		t.Errorf("Len changed by replace: %d", g.Len())
	}

	if err := g.Replace(99, []float32{1, 1}); err != ErrInvalidLabel {
		t.Errorf("expected ErrInvalidLabel, got %v", err)
	}
	if err := g.Replace(0, []float32{1, 1}); err != ErrInvalidLabel {
		t.Errorf("sentinel must not be replaceable, got %v", err)
	}
	if err := g.Replace(label, []float32{1}); err == nil {
		t.Error("expected dimension mismatch on replace")
	}
}

func TestGraph_SaveLoadRoundTrip(t *testing.T) {
	g := New(8, 100, func(o *Options) { o.M = 8 })
	vecs := randomVectors(60, 8, 3)
	for _, v := range vecs {
		if _, err := g.Insert(v); err != nil {
			t.Fatal(err)
		}
	}
	q := randomVectors(1, 8, 5)[0]
	before, err := g.Search(q, 10, 50)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := g.SaveTo(&buf); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadFrom(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != g.Len() || loaded.Dimension() != g.Dimension() {
		t.Fatalf("loaded graph shape mismatch: len=%d dim=%d", loaded.Len(), loaded.Dimension())
	}

	after, err := loaded.Search(q, 10, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before) {
		t.Fatalf("result count changed after load: %d vs %d", len(after), len(before))
	}
	for i := range before {
		if before[i].Label != after[i].Label {
			t.Errorf("result %d label changed: %d vs %d", i, before[i].Label, after[i].Label)
		}
	}
}

func TestLoadFrom_Corrupt(t *testing.T) {
	if _, err := LoadFrom(bytes.NewReader([]byte("not a graph"))); err == nil {
		t.Error("expected error for corrupt blob")
	}
}
