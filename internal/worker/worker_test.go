package worker

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/persist"
	"github.com/hyperjump/kensaku/internal/storage"
)

func newTestWorker(t *testing.T) (*Worker, persist.Artifact) {
	t.Helper()
	dir := t.TempDir()
	artifact := persist.Artifact{
		GraphPath:    filepath.Join(dir, "index.gob"),
		ManifestPath: filepath.Join(dir, "index.manifest.json"),
	}
	w := New(storage.NewMemoryStore(), artifact, time.Hour, nil)
	w.Start()
	return w, artifact
}

func roundTrip(t *testing.T, w *Worker, id string, op Op) Response {
	t.Helper()
	w.In() <- Request{ID: id, Op: op}
	select {
	case resp := <-w.Out():
		if resp.ID != id {
			t.Fatalf("response ID = %q, want %q", resp.ID, id)
		}
		return resp
	case <-time.After(5 * time.Second):
		t.Fatalf("no response for %s within 5s", op.Name())
	}
	return Response{}
}

func mustOK(t *testing.T, w *Worker, id string, op Op) Response {
	t.Helper()
	resp := roundTrip(t, w, id, op)
	if !resp.OK {
		t.Fatalf("%s failed: %s", op.Name(), resp.Err)
	}
	return resp
}

func axisVector(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func TestWorkerRejectsOperationsBeforeInit(t *testing.T) {
	w, _ := newTestWorker(t)
	defer mustOK(t, w, "close", CloseOp{})

	resp := roundTrip(t, w, "s1", SearchOp{Query: axisVector(4, 0), Options: models.SearchOptions{}})
	if resp.OK {
		t.Fatal("search before init should fail")
	}
	if resp.Err == "" {
		t.Fatal("expected an error message on the response")
	}
}

func TestWorkerInsertSearchFlow(t *testing.T) {
	w, _ := newTestWorker(t)
	defer mustOK(t, w, "close", CloseOp{})

	mustOK(t, w, "init", InitOp{Config: models.IndexConfig{Dimension: 4}})
	for i := 0; i < 3; i++ {
		mustOK(t, w, fmt.Sprintf("ins-%d", i), InsertOp{
			ChunkID:   fmt.Sprintf("chunk-%d", i),
			LibraryID: "lib-a",
			Vector:    axisVector(4, i),
		})
	}

	resp := mustOK(t, w, "search", SearchOp{
		Query:   axisVector(4, 1),
		Options: models.SearchOptions{TopK: 1},
	})
	results, ok := resp.Data.([]models.SearchResult)
	if !ok {
		t.Fatalf("search data has type %T, want []models.SearchResult", resp.Data)
	}
	if len(results) != 1 || results[0].ChunkID != "chunk-1" {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].Score < 0.99 {
		t.Fatalf("exact match score = %f, want ~1", results[0].Score)
	}
}

func TestWorkerProcessesRequestsInOrder(t *testing.T) {
	w, _ := newTestWorker(t)
	defer mustOK(t, w, "close", CloseOp{})

	ids := []string{"r1", "r2", "r3", "r4"}
	w.In() <- Request{ID: ids[0], Op: InitOp{Config: models.IndexConfig{Dimension: 2}}}
	w.In() <- Request{ID: ids[1], Op: InsertOp{ChunkID: "a", Vector: axisVector(2, 0)}}
	w.In() <- Request{ID: ids[2], Op: InsertOp{ChunkID: "b", Vector: axisVector(2, 1)}}
	w.In() <- Request{ID: ids[3], Op: StatsOp{}}

	for _, want := range ids {
		select {
		case resp := <-w.Out():
			if resp.ID != want {
				t.Fatalf("response order: got %q, want %q", resp.ID, want)
			}
			if !resp.OK {
				t.Fatalf("request %q failed: %s", want, resp.Err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("no response for %q within 5s", want)
		}
	}
}

func TestWorkerStats(t *testing.T) {
	w, _ := newTestWorker(t)
	defer mustOK(t, w, "close", CloseOp{})

	resp := mustOK(t, w, "stats-0", StatsOp{})
	stats, ok := resp.Data.(models.IndexStats)
	if !ok {
		t.Fatalf("stats data has type %T, want models.IndexStats", resp.Data)
	}
	if stats.Initialized || stats.Count != 0 {
		t.Fatalf("uninitialized stats = %+v, want zeroes", stats)
	}

	mustOK(t, w, "init", InitOp{Config: models.IndexConfig{Dimension: 3}})
	mustOK(t, w, "ins", InsertOp{ChunkID: "a", Vector: axisVector(3, 0)})

	resp = mustOK(t, w, "stats-1", StatsOp{})
	stats = resp.Data.(models.IndexStats)
	if !stats.Initialized || stats.Count != 1 || stats.Dimension != 3 || stats.MappingCount != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestWorkerBatchInsert(t *testing.T) {
	w, _ := newTestWorker(t)
	defer mustOK(t, w, "close", CloseOp{})

	mustOK(t, w, "init", InitOp{Config: models.IndexConfig{Dimension: 2}})
	resp := mustOK(t, w, "batch", InsertBatchOp{Items: []models.InsertItem{
		{ChunkID: "a", Vector: axisVector(2, 0)},
		{ChunkID: "b", Vector: axisVector(2, 1)},
		{ChunkID: "bad", Vector: axisVector(3, 0)},
	}})
	result, ok := resp.Data.(models.BatchResult)
	if !ok {
		t.Fatalf("batch data has type %T, want models.BatchResult", resp.Data)
	}
	if result.Inserted != 2 || result.Skipped != 1 {
		t.Fatalf("batch result = %+v, want 2 inserted / 1 skipped", result)
	}
}

func TestWorkerCloseFlushesArtifact(t *testing.T) {
	w, artifact := newTestWorker(t)

	mustOK(t, w, "init", InitOp{Config: models.IndexConfig{Dimension: 2}})
	mustOK(t, w, "ins", InsertOp{ChunkID: "a", LibraryID: "lib", Vector: axisVector(2, 0)})
	mustOK(t, w, "close", CloseOp{})

	select {
	case err := <-w.Done():
		if err != nil {
			t.Fatalf("orderly close reported error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no done signal after close")
	}

	g, m, err := artifact.Load(2)
	if err != nil {
		t.Fatalf("artifact unreadable after close: %v", err)
	}
	if g.Len() != 1 {
		t.Fatalf("persisted graph has %d vectors, want 1", g.Len())
	}
	if m.ChunkToLabel["a"] == 0 {
		t.Fatal("manifest lost the chunk mapping")
	}
}

func TestWorkerCloseBeforeInit(t *testing.T) {
	w, _ := newTestWorker(t)
	mustOK(t, w, "close", CloseOp{})

	select {
	case err := <-w.Done():
		if err != nil {
			t.Fatalf("close before init reported error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no done signal after close")
	}
}

type bogusOp struct{}

func (bogusOp) isOp()        {}
func (bogusOp) Name() string { return "bogus" }

func TestWorkerUnknownOperation(t *testing.T) {
	w, _ := newTestWorker(t)
	defer mustOK(t, w, "close", CloseOp{})

	resp := roundTrip(t, w, "x", bogusOp{})
	if resp.OK {
		t.Fatal("unknown operation should fail")
	}
}

func TestWorkerDebouncedSave(t *testing.T) {
	dir := t.TempDir()
	artifact := persist.Artifact{
		GraphPath:    filepath.Join(dir, "index.gob"),
		ManifestPath: filepath.Join(dir, "index.manifest.json"),
	}
	w := New(storage.NewMemoryStore(), artifact, 50*time.Millisecond, nil)
	w.Start()
	defer mustOK(t, w, "close", CloseOp{})

	mustOK(t, w, "init", InitOp{Config: models.IndexConfig{Dimension: 2}})
	mustOK(t, w, "ins-a", InsertOp{ChunkID: "a", Vector: axisVector(2, 0)})
	mustOK(t, w, "ins-b", InsertOp{ChunkID: "b", Vector: axisVector(2, 1)})

	deadline := time.Now().Add(5 * time.Second)
	for {
		if g, _, err := artifact.Load(2); err == nil && g.Len() == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("debounced save never produced a complete artifact")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
