package broker

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned for operations before Initialize has
	// succeeded.
	ErrNotInitialized = errors.New("broker not initialized")

	// ErrRequestTimeout is returned when an operation's deadline elapses
	// before the worker responds. The worker may still complete the
	// operation; its late response is discarded.
	ErrRequestTimeout = errors.New("worker request timed out")

	// ErrWorkerCrashed is returned to callers whose in-flight requests were
	// lost to an abnormal worker exit.
	ErrWorkerCrashed = errors.New("worker crashed")

	// ErrRestarting is returned while a replacement worker is being spawned
	// and re-initialized. Callers should retry shortly.
	ErrRestarting = errors.New("worker is restarting")

	// ErrMaxRestartsExceeded marks the terminal failed state after the
	// restart budget is exhausted.
	ErrMaxRestartsExceeded = errors.New("worker restart limit exceeded")

	// ErrClosing is returned for operations issued during or after an
	// orderly shutdown.
	ErrClosing = errors.New("broker is closing")
)

// OpError carries a failure reported by the worker for a specific
// operation, as opposed to a transport-level failure of the broker itself.
type OpError struct {
	Op      string
	Message string
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}
