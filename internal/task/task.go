// Package task defines the scheduling-facing vocabulary shared by the two
// executors and the manager facade: task identity, state, descriptors, and
// handles. It is the Go analogue of the teacher's queue/scheduler job
// bookkeeping, generalized to the hybrid blocking/concurrent task model.
package task

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Sentinel errors surfaced by the task subsystem. Executors and the manager
// never invent new error kinds; they wrap one of these with step context.
var (
	ErrCancelled       = errors.New("task: cancelled")
	ErrLockConflict    = errors.New("task: lock conflict")
	ErrInvalidState    = errors.New("task: invalid state")
	ErrChecksumMismatch = errors.New("task: checksum mismatch")
)

// ID uniquely identifies a submitted task.
type ID = uuid.UUID

// NewID returns a fresh random task id.
func NewID() ID {
	return uuid.New()
}

// State is the task's position in Pending -> Running -> {Completed, Failed,
// Cancelled}. Transitions are monotonic: once terminal, a state never
// changes again.
type State int

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s is one of Completed/Failed/Cancelled.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Class is the scheduling class a descriptor declares: which executor a
// task is routed through.
type Class int

const (
	ClassBlocking Class = iota
	ClassConcurrent
)

// Context is handed to a task body's Execute method. It exposes cooperative
// cancellation without letting the body reach into executor-internal state.
type Context struct {
	ctx    context.Context
	cancel <-chan struct{}
}

// NewContext wraps a context.Context for use by a task body.
func NewContext(ctx context.Context, cancel <-chan struct{}) *Context {
	return &Context{ctx: ctx, cancel: cancel}
}

// IsCancelled reports whether cancellation has been observed.
func (c *Context) IsCancelled() bool {
	select {
	case <-c.cancel:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when cancellation is observed, for use in a
// select alongside a task body's own I/O.
func (c *Context) Done() <-chan struct{} {
	return c.cancel
}

// Underlying returns the context.Context, e.g. to pass to an HTTP request
// or exec.CommandContext.
func (c *Context) Underlying() context.Context {
	return c.ctx
}

// stateCell is the shared, interior-mutable cell backing a handle's observable
// State(). A single mutex guards writer-last-wins updates; readers get a
// consistent snapshot.
type stateCell struct {
	mu    sync.Mutex
	value State
}

func newStateCell() *stateCell {
	return &stateCell{value: StatePending}
}

func (c *stateCell) get() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *stateCell) set(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = s
}

// trySet transitions the cell to s unless it is already terminal, and
// reports whether the transition happened.
func (c *stateCell) trySet(s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value.IsTerminal() {
		return false
	}
	c.value = s
	return true
}
