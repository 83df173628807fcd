package task

import (
	"context"
	"sync"
)

// BlockingSubmitter is the subset of executor.Blocking the manager depends
// on; kept as an interface so internal/task does not import
// internal/executor (which itself imports internal/task).
type BlockingSubmitter interface {
	Submit(ctx context.Context, d Descriptor) (*Handle, error)
	Boost(typeName string, id ID) bool
}

// ConcurrentSubmitter is the subset of executor.Concurrent the manager
// depends on.
type ConcurrentSubmitter interface {
	Submit(ctx context.Context, d Descriptor) (*Handle, error)
}

type trackedTask struct {
	handle   *Handle
	typeName string
	priority Priority
}

// Manager is the task subsystem's facade: it routes a descriptor to the
// right executor, tracks submitted tasks for Cancel/BoostPriority lookup,
// and evicts tracking entries once a task's completion notifier fires.
// Grounded on original_source/src/task/manager.go's TaskManager, adapted
// to take its two executors by interface so this package stays leaf-level
// and executor can depend on task without a cycle.
type Manager struct {
	blocking   BlockingSubmitter
	concurrent ConcurrentSubmitter

	mu    sync.Mutex
	tasks map[ID]*trackedTask
}

// NewManager returns a manager driving the given executors.
func NewManager(blocking BlockingSubmitter, concurrent ConcurrentSubmitter) *Manager {
	return &Manager{
		blocking:   blocking,
		concurrent: concurrent,
		tasks:      make(map[ID]*trackedTask),
	}
}

// SubmitBlocking dispatches d (which must declare ClassBlocking) to the
// blocking executor and begins tracking the resulting handle.
func (m *Manager) SubmitBlocking(ctx context.Context, d Descriptor) (*Handle, error) {
	h, err := m.blocking.Submit(ctx, d)
	if err != nil {
		return nil, err
	}
	m.track(h, d)
	return h, nil
}

// SubmitConcurrent dispatches d (which must declare ClassConcurrent) to the
// concurrent executor and begins tracking the resulting handle.
func (m *Manager) SubmitConcurrent(ctx context.Context, d Descriptor) (*Handle, error) {
	h, err := m.concurrent.Submit(ctx, d)
	if err != nil {
		return nil, err
	}
	m.track(h, d)
	return h, nil
}

// Cancel requests cancellation of the task with the given id. It reports
// ErrInvalidState if the id is unknown (already evicted, or never
// submitted through this manager).
func (m *Manager) Cancel(id ID) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return ErrInvalidState
	}
	return t.handle.Cancel()
}

// BoostPriority updates the tracked priority for id and, if id is a
// blocking task still waiting in its type's queue, asks the blocking
// executor to move it to the head of that queue.
func (m *Manager) BoostPriority(id ID, priority Priority) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if ok {
		t.priority = priority
	}
	m.mu.Unlock()
	if !ok {
		return ErrInvalidState
	}
	m.blocking.Boost(t.typeName, id)
	return nil
}

// Handle returns the tracked handle for id, if it is still tracked.
func (m *Manager) Handle(id ID) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, false
	}
	return t.handle, true
}

func (m *Manager) track(h *Handle, d Descriptor) {
	t := &trackedTask{handle: h, typeName: d.Body.TypeName(), priority: d.Priority}
	m.mu.Lock()
	m.tasks[h.ID] = t
	m.mu.Unlock()

	go func() {
		<-h.CompletionNotifier()
		m.mu.Lock()
		delete(m.tasks, h.ID)
		m.mu.Unlock()
	}()
}
