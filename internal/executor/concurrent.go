package executor

import (
	"context"
	"fmt"
	"sync"

	"hako-launcher/internal/lock"
	"hako-launcher/internal/task"
)

// Concurrent runs many tasks in parallel under a process-wide cap and an
// optional per-type cap. Grounded on original_source/src/task/executor.rs's
// ConcurrentExecutor (global then per-type semaphore acquisition) and on
// the teacher's internal/network.BandwidthManager, whose "zero overhead
// when disabled" optional-limiter idiom this mirrors for the global cap.
type Concurrent struct {
	locks  *lock.Registry
	global chan struct{} // nil means uncapped

	mu    sync.Mutex
	types map[string]chan struct{}
}

// NewConcurrent returns a concurrent executor. maxConcurrent <= 0 means no
// process-wide cap.
func NewConcurrent(locks *lock.Registry, maxConcurrent int) *Concurrent {
	c := &Concurrent{locks: locks, types: make(map[string]chan struct{})}
	if maxConcurrent > 0 {
		c.global = make(chan struct{}, maxConcurrent)
	}
	return c
}

// Submit runs d's body under the concurrent discipline: try-acquire locks
// synchronously, then spawn a goroutine that acquires the global permit,
// then the per-type permit (created lazily at its declared cap on first
// use and never renegotiated), before transitioning to Running.
func (c *Concurrent) Submit(ctx context.Context, d task.Descriptor) (*task.Handle, error) {
	if err := c.locks.TryAcquire(d.Keys); err != nil {
		return nil, fmt.Errorf("%w: %v", task.ErrLockConflict, err)
	}

	id := task.NewID()
	h := task.NewHandle(id)

	var typeSem chan struct{}
	if cap, ok := d.MaxConcurrentCap(); ok {
		typeSem = c.typeSemaphore(d.Body.TypeName(), cap)
	}

	go c.run(ctx, d, h, typeSem)

	return h, nil
}

func (c *Concurrent) typeSemaphore(typeName string, cap int) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sem, ok := c.types[typeName]; ok {
		return sem
	}
	sem := make(chan struct{}, cap)
	c.types[typeName] = sem
	return sem
}

func (c *Concurrent) run(ctx context.Context, d task.Descriptor, h *task.Handle, typeSem chan struct{}) {
	if c.global != nil {
		select {
		case c.global <- struct{}{}:
			defer func() { <-c.global }()
		case <-h.CancelSignal():
			c.locks.Release(d.Keys)
			h.Finish(nil, task.ErrCancelled)
			return
		}
	}
	if typeSem != nil {
		select {
		case typeSem <- struct{}{}:
			defer func() { <-typeSem }()
		case <-h.CancelSignal():
			c.locks.Release(d.Keys)
			h.Finish(nil, task.ErrCancelled)
			return
		}
	}

	h.SetRunning()

	value, err := task.Run(ctx, d.Body, h)

	c.locks.Release(d.Keys)
	h.Finish(value, err)
}
