// Package executor implements the two task executors described by the task
// subsystem: BlockingExecutor (one task of a type running at a time, FIFO
// waiters) and ConcurrentExecutor (global + per-type concurrency caps). Both
// are grounded on the teacher's queue worker-pool pattern
// (internal/queue/scheduler.go's single-flight-per-type dispatch) and on
// original_source/src/task/executor.rs, which is the direct model for the
// lock-then-spawn submission protocol used here.
package executor

import (
	"context"
	"fmt"
	"sync"

	"hako-launcher/internal/lock"
	"hako-launcher/internal/task"
)

// pendingWaiter is one entry in a blocking type's FIFO queue.
type pendingWaiter struct {
	taskID task.ID
	notify chan struct{}
}

// Blocking runs at most one task of a given type at a time, when that
// task's descriptor claims the type's whole-type lock key. Submissions for
// a busy, non-queueable type fail immediately; queueable submissions wait
// in FIFO order.
type Blocking struct {
	locks *lock.Registry

	mu      sync.Mutex
	running map[string]task.ID
	queues  map[string][]*pendingWaiter
}

// NewBlocking returns a blocking executor backed by the given lock
// registry.
func NewBlocking(locks *lock.Registry) *Blocking {
	return &Blocking{
		locks:   locks,
		running: make(map[string]task.ID),
		queues:  make(map[string][]*pendingWaiter),
	}
}

// Submit runs d's body under the blocking discipline. It returns a handle
// immediately once the task has either started running or failed to
// acquire its locks; the body itself runs in a new goroutine.
func (b *Blocking) Submit(ctx context.Context, d task.Descriptor) (*task.Handle, error) {
	typeName := d.Body.TypeName()
	hasGlobal := d.HasGlobalKey()
	id := task.NewID()

	if hasGlobal {
		b.mu.Lock()
		if _, busy := b.running[typeName]; busy {
			if !d.QueueableFlag() {
				b.mu.Unlock()
				return nil, fmt.Errorf("%w: %s already running", task.ErrLockConflict, typeName)
			}
			waiter := &pendingWaiter{taskID: id, notify: make(chan struct{})}
			b.queues[typeName] = append(b.queues[typeName], waiter)
			b.mu.Unlock()

			select {
			case <-waiter.notify:
			case <-ctx.Done():
				b.dropWaiter(typeName, waiter)
				return nil, ctx.Err()
			}
		} else {
			b.mu.Unlock()
		}
	}

	if err := b.locks.TryAcquire(d.Keys); err != nil {
		if hasGlobal {
			b.mu.Lock()
			b.advanceQueue(typeName)
			b.mu.Unlock()
		}
		return nil, fmt.Errorf("%w: %v", task.ErrLockConflict, err)
	}

	h := task.NewHandle(id)

	if hasGlobal {
		b.mu.Lock()
		b.running[typeName] = id
		b.mu.Unlock()
	}

	go b.run(ctx, d, typeName, hasGlobal, h)

	return h, nil
}

func (b *Blocking) run(ctx context.Context, d task.Descriptor, typeName string, hasGlobal bool, h *task.Handle) {
	h.SetRunning()

	value, err := task.Run(ctx, d.Body, h)

	b.locks.Release(d.Keys)

	if hasGlobal {
		b.mu.Lock()
		b.advanceQueue(typeName)
		b.mu.Unlock()
	}

	h.Finish(value, err)
}

// advanceQueue pops the head waiter (if any) for typeName and reserves
// running[typeName] for it in the same critical section as the pop, or
// clears running[typeName] when the queue is empty. Must be called with
// b.mu held. Reserving the slot here — rather than leaving it to the
// woken waiter's own TryAcquire call back in Submit — closes the window
// between a waiter being dequeued and it re-acquiring the lock: without
// it, a fresh non-queueable submission could observe typeName as free
// during that window and race the just-woken waiter for the lock.
func (b *Blocking) advanceQueue(typeName string) {
	q := b.queues[typeName]
	if len(q) == 0 {
		delete(b.queues, typeName)
		delete(b.running, typeName)
		return
	}
	head := q[0]
	b.queues[typeName] = q[1:]
	if len(b.queues[typeName]) == 0 {
		delete(b.queues, typeName)
	}
	b.running[typeName] = head.taskID
	close(head.notify)
}

// Boost moves taskID to the head of typeName's still-waiting queue, if
// present. It never displaces a waiter that has already been released to
// race for the lock (the spec leaves this ambiguous; this repository's
// Open Question decision is "no displacement" - see DESIGN.md).
func (b *Blocking) Boost(typeName string, id task.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queues[typeName]
	for i, w := range q {
		if w.taskID == id {
			if i == 0 {
				return true
			}
			reordered := make([]*pendingWaiter, 0, len(q))
			reordered = append(reordered, w)
			reordered = append(reordered, q[:i]...)
			reordered = append(reordered, q[i+1:]...)
			b.queues[typeName] = reordered
			return true
		}
	}
	return false
}

func (b *Blocking) dropWaiter(typeName string, waiter *pendingWaiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[typeName]
	for i, w := range q {
		if w == waiter {
			b.queues[typeName] = append(q[:i], q[i+1:]...)
			if len(b.queues[typeName]) == 0 {
				delete(b.queues, typeName)
			}
			return
		}
	}
}
