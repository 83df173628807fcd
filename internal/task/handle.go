package task

import (
	"errors"
	"sync"
)

// result carries the final outcome of a task body, mirroring the Rust
// reference's oneshot<Result<T, TaskError>>.
type result struct {
	value any
	err   error
}

// Handle is the one object the submitter is given back. The submitter owns
// it; dropping it does not cancel the task (cancellation is an explicit
// Cancel call or TaskManager.Cancel).
type Handle struct {
	ID ID

	state      *stateCell
	cancelOnce sync.Once
	cancelCh   chan struct{}
	completion chan struct{}

	resultMu   sync.Mutex
	resultCh   chan result
	resultTook bool
	cached     result
}

func newHandle(id ID) *Handle {
	return &Handle{
		ID:         id,
		state:      newStateCell(),
		cancelCh:   make(chan struct{}),
		completion: make(chan struct{}),
		resultCh:   make(chan result, 1),
	}
}

// NewHandle returns a fresh, Pending handle for id. Executors call this at
// submission time, before spawning the task body's goroutine.
func NewHandle(id ID) *Handle {
	return newHandle(id)
}

// State returns a consistent snapshot of the task's current state.
func (h *Handle) State() State {
	return h.state.get()
}

// CancelSignal exposes the channel a task body selects on to observe
// cancellation alongside its own I/O.
func (h *Handle) CancelSignal() <-chan struct{} {
	return h.cancelCh
}

// IsCancelled reports whether Cancel has fired. Run uses this to tell a
// body-reported cancellation apart from any other error once the body
// returns.
func (h *Handle) IsCancelled() bool {
	select {
	case <-h.cancelCh:
		return true
	default:
		return false
	}
}

// CompletionNotifier is closed exactly once, when the task reaches a
// terminal state. Multiple goroutines may await it.
func (h *Handle) CompletionNotifier() <-chan struct{} {
	return h.completion
}

// Cancel requests cancellation. It is idempotent: a cancel signal is a
// single-writer broadcast-once notification, and firing it twice has no
// additional effect. Cancel only succeeds while the task is still
// Pending or Running; calling it on a terminal handle reports
// ErrInvalidState (the handle does not flip to Cancelled purely because
// Cancel was called - the task body decides the terminal state it
// reports back, per the data model's "decided by what the task body
// reports back" rule).
func (h *Handle) Cancel() error {
	if h.state.get().IsTerminal() {
		return ErrInvalidState
	}
	h.cancelOnce.Do(func() { close(h.cancelCh) })
	return nil
}

// Result blocks until the task completes and returns its outcome. It may
// be called more than once; the result is cached after the first call.
func (h *Handle) Result() (any, error) {
	h.resultMu.Lock()
	defer h.resultMu.Unlock()
	if h.resultTook {
		return h.cached.value, h.cached.err
	}
	r, ok := <-h.resultCh
	if !ok {
		r = result{err: ErrInvalidState}
	}
	h.resultTook = true
	h.cached = r
	return r.value, r.err
}

// SetRunning transitions the handle to Running. Only executors call this,
// immediately before invoking the task body.
func (h *Handle) SetRunning() {
	h.state.set(StateRunning)
}

// Finish delivers the final result, flips to the terminal state derived
// from err, and notifies completion waiters exactly once. Only executors
// call this, right after the task body returns.
func (h *Handle) Finish(value any, err error) {
	final := StateCompleted
	switch {
	case errors.Is(err, ErrCancelled):
		final = StateCancelled
	case err != nil:
		final = StateFailed
	}
	h.state.set(final)
	h.resultCh <- result{value: value, err: err}
	close(h.resultCh)
	close(h.completion)
}
