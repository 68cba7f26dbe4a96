// Package broker is the host-side boundary to the index worker. It
// correlates asynchronous worker responses with blocked callers, enforces
// per-operation deadlines, and replaces the worker when it dies.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/worker"
)

// WorkerHandle is what the broker drives: a started worker's channel
// endpoints. *worker.Worker satisfies it; tests substitute fakes.
type WorkerHandle interface {
	Start()
	In() chan<- worker.Request
	Out() <-chan worker.Response
	Done() <-chan error
}

// SpawnFunc creates a fresh worker with its own store handle. It is called
// once at Initialize and again for every restart.
type SpawnFunc func() (WorkerHandle, error)

// State is the broker's lifecycle state.
type State int

const (
	// StateUninitialized precedes the first Initialize call.
	StateUninitialized State = iota
	// StateInitializing means the first worker is being spawned and
	// initialized.
	StateInitializing
	// StateReady accepts operations.
	StateReady
	// StateRestarting means the worker died and a replacement is being
	// brought up. Operations are rejected, not queued.
	StateRestarting
	// StateFailed is terminal: the restart budget is exhausted.
	StateFailed
	// StateClosing rejects new operations while the worker shuts down.
	StateClosing
	// StateClosed follows an orderly Terminate.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateRestarting:
		return "restarting"
	case StateFailed:
		return "failed"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Timeouts are the per-operation deadlines. Zero fields take the default.
type Timeouts struct {
	Init        time.Duration
	Search      time.Duration
	Insert      time.Duration
	InsertBatch time.Duration
	Rebuild     time.Duration
	Stats       time.Duration
}

// DefaultTimeouts returns the stock deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Init:        60 * time.Second,
		Search:      30 * time.Second,
		Insert:      30 * time.Second,
		InsertBatch: 120 * time.Second,
		Rebuild:     300 * time.Second,
		Stats:       10 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Init <= 0 {
		t.Init = d.Init
	}
	if t.Search <= 0 {
		t.Search = d.Search
	}
	if t.Insert <= 0 {
		t.Insert = d.Insert
	}
	if t.InsertBatch <= 0 {
		t.InsertBatch = d.InsertBatch
	}
	if t.Rebuild <= 0 {
		t.Rebuild = d.Rebuild
	}
	if t.Stats <= 0 {
		t.Stats = d.Stats
	}
	return t
}

// forOp maps an operation to its deadline.
func (t Timeouts) forOp(op worker.Op) time.Duration {
	switch op.(type) {
	case worker.InitOp:
		return t.Init
	case worker.SearchOp:
		return t.Search
	case worker.InsertOp:
		return t.Insert
	case worker.InsertBatchOp:
		return t.InsertBatch
	case worker.RebuildOp:
		return t.Rebuild
	case worker.StatsOp:
		return t.Stats
	default:
		return t.Stats
	}
}

// Options tune the broker's restart and timeout behavior.
type Options struct {
	Timeouts       Timeouts
	MaxRestarts    int
	RestartBackoff time.Duration
}

const (
	defaultMaxRestarts    = 3
	defaultRestartBackoff = 500 * time.Millisecond
	maxRestartBackoff     = 30 * time.Second
)

// nextBackoff doubles d up to the restart backoff ceiling.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxRestartBackoff {
		d = maxRestartBackoff
	}
	return d
}

// outcome is what a blocked caller receives: either the worker's response
// or a broker-level error (crash, shutdown).
type outcome struct {
	resp worker.Response
	err  error
}

// pendingCall is one blocked caller together with the worker generation its
// request was sent to. The handle keeps an exiting generation from failing
// calls that belong to its replacement.
type pendingCall struct {
	ch chan outcome
	h  WorkerHandle
}

// Broker owns the worker lifecycle and fans caller goroutines in and out
// of the single worker queue.
type Broker struct {
	spawn  SpawnFunc
	logger *zap.Logger

	timeouts       Timeouts
	maxRestarts    int
	restartBackoff time.Duration

	mu       sync.Mutex
	state    State
	handle   WorkerHandle
	pending  map[string]pendingCall
	lastInit models.IndexConfig
}

// New creates a broker over the given spawn function. Nothing runs until
// Initialize.
func New(spawn SpawnFunc, opts Options, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxRestarts <= 0 {
		opts.MaxRestarts = defaultMaxRestarts
	}
	if opts.RestartBackoff <= 0 {
		opts.RestartBackoff = defaultRestartBackoff
	}
	b := &Broker{
		spawn:          spawn,
		logger:         logger,
		timeouts:       opts.Timeouts.withDefaults(),
		maxRestarts:    opts.MaxRestarts,
		restartBackoff: opts.RestartBackoff,
		pending:        make(map[string]pendingCall),
	}
	return b
}

// State returns the current lifecycle state.
func (b *Broker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Initialize spawns the first worker and initializes its index. It must
// succeed before any other operation is accepted.
func (b *Broker) Initialize(ctx context.Context, cfg models.IndexConfig) error {
	b.mu.Lock()
	if b.state != StateUninitialized {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("initialize called in state %s", state)
	}
	b.state = StateInitializing
	b.mu.Unlock()

	h, err := b.spawn()
	if err != nil {
		b.setState(StateUninitialized)
		return fmt.Errorf("failed to spawn worker: %w", err)
	}
	h.Start()
	go b.dispatch(h)

	b.mu.Lock()
	b.handle = h
	b.lastInit = cfg
	b.mu.Unlock()

	if _, err := b.call(ctx, h, worker.InitOp{Config: cfg}); err != nil {
		b.abandon(h)
		b.mu.Lock()
		b.handle = nil
		b.state = StateUninitialized
		b.mu.Unlock()
		return err
	}
	b.setState(StateReady)
	return nil
}

// Search runs a nearest-neighbor query on the worker.
func (b *Broker) Search(ctx context.Context, query []float32, opts models.SearchOptions) ([]models.SearchResult, error) {
	resp, err := b.do(ctx, worker.SearchOp{Query: query, Options: opts})
	if err != nil {
		return nil, err
	}
	results, ok := resp.Data.([]models.SearchResult)
	if !ok {
		return nil, fmt.Errorf("unexpected search payload %T", resp.Data)
	}
	return results, nil
}

// Insert upserts one embedding.
func (b *Broker) Insert(ctx context.Context, chunkID, libraryID string, vec []float32, model string) error {
	_, err := b.do(ctx, worker.InsertOp{ChunkID: chunkID, LibraryID: libraryID, Vector: vec, Model: model})
	return err
}

// InsertBatch upserts many embeddings in one store transaction.
func (b *Broker) InsertBatch(ctx context.Context, items []models.InsertItem) (models.BatchResult, error) {
	resp, err := b.do(ctx, worker.InsertBatchOp{Items: items})
	if err != nil {
		return models.BatchResult{}, err
	}
	result, ok := resp.Data.(models.BatchResult)
	if !ok {
		return models.BatchResult{}, fmt.Errorf("unexpected batch payload %T", resp.Data)
	}
	return result, nil
}

// Rebuild rebuilds the index with new parameters. The new configuration
// becomes the one replayed after a crash.
func (b *Broker) Rebuild(ctx context.Context, cfg models.IndexConfig) error {
	if _, err := b.do(ctx, worker.RebuildOp{Config: cfg}); err != nil {
		return err
	}
	b.mu.Lock()
	b.lastInit = cfg
	b.mu.Unlock()
	return nil
}

// Stats reads the index statistics.
func (b *Broker) Stats(ctx context.Context) (models.IndexStats, error) {
	resp, err := b.do(ctx, worker.StatsOp{})
	if err != nil {
		return models.IndexStats{}, err
	}
	stats, ok := resp.Data.(models.IndexStats)
	if !ok {
		return models.IndexStats{}, fmt.Errorf("unexpected stats payload %T", resp.Data)
	}
	return stats, nil
}

// Terminate shuts the worker down in order: flush, close the store, exit.
// The broker accepts no operations afterwards.
func (b *Broker) Terminate(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case StateClosed, StateClosing:
		b.mu.Unlock()
		return nil
	case StateUninitialized, StateFailed:
		b.state = StateClosed
		b.mu.Unlock()
		return nil
	}
	b.state = StateClosing
	h := b.handle
	b.mu.Unlock()

	var err error
	if h != nil {
		_, err = b.call(ctx, h, worker.CloseOp{})
	}
	b.setState(StateClosed)
	return err
}

// do gates an operation on the broker state and runs it on the current
// worker.
func (b *Broker) do(ctx context.Context, op worker.Op) (worker.Response, error) {
	b.mu.Lock()
	switch b.state {
	case StateReady:
	case StateUninitialized, StateInitializing:
		b.mu.Unlock()
		return worker.Response{}, ErrNotInitialized
	case StateRestarting:
		b.mu.Unlock()
		return worker.Response{}, ErrRestarting
	case StateFailed:
		b.mu.Unlock()
		return worker.Response{}, ErrMaxRestartsExceeded
	default:
		b.mu.Unlock()
		return worker.Response{}, ErrClosing
	}
	h := b.handle
	b.mu.Unlock()

	return b.call(ctx, h, op)
}

// call sends one request to h and blocks until its response, the
// per-operation deadline, or ctx cancellation. A response arriving after
// the deadline is discarded by the buffered pending channel.
func (b *Broker) call(ctx context.Context, h WorkerHandle, op worker.Op) (worker.Response, error) {
	id := uuid.NewString()
	ch := make(chan outcome, 1)

	b.mu.Lock()
	b.pending[id] = pendingCall{ch: ch, h: h}
	b.mu.Unlock()

	timeout := b.timeouts.forOp(op)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case h.In() <- worker.Request{ID: id, Op: op}:
	case <-timer.C:
		b.removePending(id)
		return worker.Response{}, fmt.Errorf("%w: %s queue full after %s", ErrRequestTimeout, op.Name(), timeout)
	case <-ctx.Done():
		b.removePending(id)
		return worker.Response{}, ctx.Err()
	}

	select {
	case out := <-ch:
		if out.err != nil {
			return worker.Response{}, out.err
		}
		if !out.resp.OK {
			return out.resp, &OpError{Op: op.Name(), Message: out.resp.Err}
		}
		return out.resp, nil
	case <-timer.C:
		b.removePending(id)
		b.logger.Warn("worker request timed out",
			zap.String("op", op.Name()),
			zap.String("request_id", id),
			zap.Duration("timeout", timeout))
		return worker.Response{}, fmt.Errorf("%w: %s after %s", ErrRequestTimeout, op.Name(), timeout)
	case <-ctx.Done():
		b.removePending(id)
		return worker.Response{}, ctx.Err()
	}
}

func (b *Broker) removePending(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// dispatch routes one worker generation's responses to their callers. It
// exits when the worker's loop does, triggering a restart on abnormal
// exit.
func (b *Broker) dispatch(h WorkerHandle) {
	for {
		select {
		case resp := <-h.Out():
			b.deliver(resp)
		case err := <-h.Done():
			// Responses queued before the exit still reach their callers.
			for drained := false; !drained; {
				select {
				case resp := <-h.Out():
					b.deliver(resp)
				default:
					drained = true
				}
			}
			if err != nil {
				b.onCrash(h, err)
			} else {
				b.failPending(h, ErrClosing)
			}
			return
		}
	}
}

// deliver hands a response to the caller blocked on its request ID. A
// response whose caller timed out has no pending entry and is dropped.
func (b *Broker) deliver(resp worker.Response) {
	b.mu.Lock()
	pc, ok := b.pending[resp.ID]
	if ok {
		delete(b.pending, resp.ID)
	}
	b.mu.Unlock()
	if !ok {
		b.logger.Debug("discarding late worker response", zap.String("request_id", resp.ID))
		return
	}
	pc.ch <- outcome{resp: resp}
}

// failPending rejects every in-flight request sent to worker generation h
// with err. Requests on other generations are untouched.
func (b *Broker) failPending(h WorkerHandle, err error) {
	b.mu.Lock()
	var chans []chan outcome
	for id, pc := range b.pending {
		if pc.h != h {
			continue
		}
		chans = append(chans, pc.ch)
		delete(b.pending, id)
	}
	b.mu.Unlock()
	for _, ch := range chans {
		ch <- outcome{err: err}
	}
}

// onCrash transitions Ready to Restarting and kicks off the restart loop,
// but only when the crashed worker is the promoted one. A crash of an
// abandoned generation, a replacement dying during its own init, or a crash
// racing shutdown only fails that generation's in-flight requests.
func (b *Broker) onCrash(h WorkerHandle, cause error) {
	b.logger.Error("worker exited abnormally", zap.Error(cause))

	b.mu.Lock()
	wasReady := b.state == StateReady && b.handle == h
	if wasReady {
		b.state = StateRestarting
		b.handle = nil
	}
	b.mu.Unlock()

	b.failPending(h, ErrWorkerCrashed)
	if wasReady {
		go b.restart()
	}
}

// restart brings up replacement workers with exponential backoff until one
// passes init replay or the budget runs out.
func (b *Broker) restart() {
	b.mu.Lock()
	cfg := b.lastInit
	b.mu.Unlock()

	backoff := b.restartBackoff
	for attempt := 1; attempt <= b.maxRestarts; attempt++ {
		time.Sleep(backoff)
		backoff = nextBackoff(backoff)

		h, err := b.spawn()
		if err != nil {
			b.logger.Warn("worker respawn failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		h.Start()
		go b.dispatch(h)

		ctx, cancel := context.WithTimeout(context.Background(), b.timeouts.Init)
		_, err = b.call(ctx, h, worker.InitOp{Config: cfg})
		cancel()
		if err != nil {
			b.logger.Warn("worker init replay failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			b.abandon(h)
			continue
		}

		b.mu.Lock()
		if b.state != StateRestarting {
			// Shutdown raced the restart; retire the fresh worker.
			b.mu.Unlock()
			b.abandon(h)
			return
		}
		b.handle = h
		b.state = StateReady
		b.mu.Unlock()
		b.logger.Info("worker restarted", zap.Int("attempt", attempt))
		return
	}

	b.logger.Error("worker restart limit exceeded", zap.Int("max_restarts", b.maxRestarts))
	b.mu.Lock()
	if b.state == StateRestarting {
		b.state = StateFailed
	}
	b.mu.Unlock()
}

// abandon asks a worker that will not be promoted to shut down. Best
// effort; an unresponsive worker is left to its own exit.
func (b *Broker) abandon(h WorkerHandle) {
	select {
	case h.In() <- worker.Request{ID: uuid.NewString(), Op: worker.CloseOp{}}:
	default:
	}
}

func (b *Broker) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}
