package persist

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDebounce is the quiet window before a scheduled save fires.
const DefaultDebounce = 5 * time.Second

// SaverState is the debounce scheduler's state.
type SaverState int

const (
	// SaverIdle means no save is pending or running.
	SaverIdle SaverState = iota
	// SaverArmed means the debounce timer is running.
	SaverArmed
	// SaverSaving means a save is executing.
	SaverSaving
)

// Saver coalesces rapid mutations into one persistence save. Schedule arms
// the debounce timer on the first mutation of a window; further mutations
// within the window coalesce into the same pending save. When the timer
// fires, the notify callback is invoked (the worker loop uses it to enqueue
// the save so it serializes with operations). Flush cancels any pending
// timer and runs the save synchronously.
type Saver struct {
	mu     sync.Mutex
	state  SaverState
	timer  *time.Timer
	delay  time.Duration
	notify func()
	save   func() error
	logger *zap.Logger
}

// NewSaver creates a saver. save performs the actual artifact write; notify
// is called from the timer goroutine when the debounce window elapses and
// should hand control back to the owning loop, which then calls SaveNow.
func NewSaver(delay time.Duration, save func() error, notify func(), logger *zap.Logger) *Saver {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saver{
		delay:  delay,
		save:   save,
		notify: notify,
		logger: logger,
	}
}

// State returns the current scheduler state.
func (s *Saver) State() SaverState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Schedule requests a save after the debounce window. Calls while a save is
// already armed or running coalesce into it.
func (s *Saver) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SaverIdle {
		return
	}
	s.state = SaverArmed
	s.timer = time.AfterFunc(s.delay, func() {
		if s.notify != nil {
			s.notify()
		}
	})
}

// SaveNow executes the pending save. It is a no-op when nothing was
// scheduled, so a stale timer notification after a Flush is harmless.
func (s *Saver) SaveNow() {
	s.mu.Lock()
	if s.state != SaverArmed {
		s.mu.Unlock()
		return
	}
	s.state = SaverSaving
	s.mu.Unlock()

	s.runSave()
}

// Flush cancels any pending timer and saves synchronously. Used on orderly
// shutdown and after rebuild.
func (s *Saver) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = SaverSaving
	s.mu.Unlock()

	return s.runSave()
}

func (s *Saver) runSave() error {
	start := time.Now()
	err := s.save()

	s.mu.Lock()
	s.state = SaverIdle
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("index save failed", zap.Error(err))
		return err
	}
	s.logger.Debug("index saved", zap.Duration("elapsed", time.Since(start)))
	return nil
}
