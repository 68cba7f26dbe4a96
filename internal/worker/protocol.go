// Package worker hosts the index manager and persistence controller in a
// single sequential execution context. The host drives it exclusively via
// asynchronous messages; requests are processed strictly one at a time, so
// graph mutations and reads are serialized by queue order.
package worker

import "github.com/hyperjump/kensaku/internal/models"

// Op is the sealed set of worker operations. Each request carries exactly
// one variant; payloads are typed per operation rather than an open
// envelope.
type Op interface {
	isOp()
	// Name is the operation's wire name, used for logging and timeout lookup.
	Name() string
}

// InitOp builds or loads the index for the given configuration.
type InitOp struct {
	Config models.IndexConfig
}

// SearchOp runs a nearest-neighbor query.
//
// Query is handed off to the worker without copying: the sender must not
// read or reuse the slice after posting the request.
type SearchOp struct {
	Query   []float32
	Options models.SearchOptions
}

// InsertOp upserts one embedding.
//
// Vector is handed off to the worker without copying; the sender must not
// reuse the slice after posting the request.
type InsertOp struct {
	ChunkID   string
	LibraryID string
	Vector    []float32
	Model     string
}

// InsertBatchOp upserts many embeddings in one store transaction. Item
// vectors are handed off without copying, like InsertOp.
type InsertBatchOp struct {
	Items []models.InsertItem
}

// RebuildOp rebuilds the index from the store with new parameters and saves
// immediately.
type RebuildOp struct {
	Config models.IndexConfig
}

// StatsOp reads the index statistics.
type StatsOp struct{}

// CloseOp flushes the index to disk, closes the store handle, and exits the
// worker loop.
type CloseOp struct{}

func (InitOp) isOp()        {}
func (SearchOp) isOp()      {}
func (InsertOp) isOp()      {}
func (InsertBatchOp) isOp() {}
func (RebuildOp) isOp()     {}
func (StatsOp) isOp()       {}
func (CloseOp) isOp()       {}

func (InitOp) Name() string        { return "init" }
func (SearchOp) Name() string      { return "search" }
func (InsertOp) Name() string      { return "insert" }
func (InsertBatchOp) Name() string { return "insertBatch" }
func (RebuildOp) Name() string     { return "rebuild" }
func (StatsOp) Name() string       { return "getStats" }
func (CloseOp) Name() string       { return "close" }

// Request is one inbound worker message. ID correlates the response.
type Request struct {
	ID string
	Op Op
}

// Response is one outbound worker message, echoing the request ID. Data
// holds the operation's typed result ([]models.SearchResult,
// models.BatchResult, models.IndexStats) when OK.
type Response struct {
	ID   string
	OK   bool
	Data any
	Err  string
}
