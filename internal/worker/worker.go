package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/index"
	"github.com/hyperjump/kensaku/internal/persist"
	"github.com/hyperjump/kensaku/internal/storage"
)

const queueDepth = 32

// Worker owns exactly one index manager and persistence controller and
// processes requests strictly in arrival order. A panic in any handler
// terminates the loop abnormally; the host observes it on Done and is
// responsible for respawning.
type Worker struct {
	in     chan Request
	out    chan Response
	done   chan error
	saveCh chan struct{}

	store  storage.EmbeddingStore
	mgr    *index.Manager
	saver  *persist.Saver
	logger *zap.Logger
}

// New creates a worker over its own store handle and artifact paths. The
// store is owned by the worker from here on and closed on shutdown.
func New(store storage.EmbeddingStore, artifact persist.Artifact, debounce time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		in:     make(chan Request, queueDepth),
		out:    make(chan Response, queueDepth),
		done:   make(chan error, 1),
		saveCh: make(chan struct{}, 1),
		store:  store,
		logger: logger,
	}
	w.mgr = index.NewManager(store, artifact, logger)
	w.saver = persist.NewSaver(debounce, w.save, w.notifySave, logger)
	return w
}

// In is the request channel. Large payloads cross it by slice hand-off, not
// copy; senders must follow the ownership rules on the op types.
func (w *Worker) In() chan<- Request { return w.in }

// Out is the response channel.
func (w *Worker) Out() <-chan Response { return w.out }

// Done yields exactly one value when the loop exits: nil after an orderly
// close, an error after a panic.
func (w *Worker) Done() <-chan error { return w.done }

// Start launches the worker loop.
func (w *Worker) Start() {
	go w.run()
}

func (w *Worker) save() error {
	g, manifest := w.mgr.Snapshot()
	if g == nil {
		return nil
	}
	return w.mgr.Artifact().Save(g, manifest)
}

// notifySave is called from the debounce timer goroutine; it hands the save
// back to the worker loop so it serializes with operations.
func (w *Worker) notifySave() {
	select {
	case w.saveCh <- struct{}{}:
	default:
	}
}

func (w *Worker) run() {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker terminated abnormally", zap.Any("panic", r))
			w.done <- fmt.Errorf("worker panic: %v", r)
		}
	}()

	for {
		select {
		case req := <-w.in:
			if _, closing := req.Op.(CloseOp); closing {
				w.shutdown(req.ID)
				return
			}
			w.out <- w.handle(req)
		case <-w.saveCh:
			w.saver.SaveNow()
		}
	}
}

// shutdown performs the orderly-close sequence: flush the index, close the
// store handle, acknowledge, and signal a clean exit.
func (w *Worker) shutdown(id string) {
	if w.mgr.Initialized() {
		if err := w.saver.Flush(); err != nil {
			w.logger.Warn("final flush failed", zap.Error(err))
		}
	}
	if err := w.store.Close(); err != nil {
		w.logger.Warn("store close failed", zap.Error(err))
	}
	w.out <- Response{ID: id, OK: true}
	w.done <- nil
}

func (w *Worker) handle(req Request) Response {
	ctx := context.Background()

	switch op := req.Op.(type) {
	case InitOp:
		if err := w.mgr.Init(ctx, op.Config); err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, nil)

	case SearchOp:
		results, err := w.mgr.Search(op.Query, op.Options)
		if err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, results)

	case InsertOp:
		if err := w.mgr.InsertOne(ctx, op.ChunkID, op.LibraryID, op.Vector, op.Model); err != nil {
			return fail(req.ID, err)
		}
		w.saver.Schedule()
		return ok(req.ID, nil)

	case InsertBatchOp:
		result, err := w.mgr.InsertBatch(ctx, op.Items)
		if err != nil {
			return fail(req.ID, err)
		}
		w.saver.Schedule()
		return ok(req.ID, result)

	case RebuildOp:
		if err := w.mgr.Rebuild(ctx, op.Config); err != nil {
			return fail(req.ID, err)
		}
		if err := w.saver.Flush(); err != nil {
			w.logger.Warn("post-rebuild save failed", zap.Error(err))
		}
		return ok(req.ID, nil)

	case StatsOp:
		return ok(req.ID, w.mgr.Stats())

	default:
		return fail(req.ID, fmt.Errorf("unknown operation %T", req.Op))
	}
}

func ok(id string, data any) Response {
	return Response{ID: id, OK: true, Data: data}
}

func fail(id string, err error) Response {
	return Response{ID: id, Err: err.Error()}
}
