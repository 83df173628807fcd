// Package lock implements the process-wide resource lock registry that the
// task executors use to serialize access to shared resources.
package lock

import (
	"fmt"
	"sync"
)

// Key identifies a lockable resource. The reserved ResourceID "global"
// denotes a whole-type lock: whoever holds (T, "global") owns every
// instance of type T for the duration of the hold.
type Key struct {
	ResourceType string
	ResourceID   string
}

// Global returns the whole-type lock key for resourceType.
func Global(resourceType string) Key {
	return Key{ResourceType: resourceType, ResourceID: "global"}
}

// Instance returns a lock key scoped to one resource instance.
func Instance(resourceType, resourceID string) Key {
	return Key{ResourceType: resourceType, ResourceID: resourceID}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.ResourceType, k.ResourceID)
}

// IsGlobal reports whether this key denotes a whole-type lock.
func (k Key) IsGlobal() bool {
	return k.ResourceID == "global"
}

// Registry is a process-wide set of held keys. Acquisition is all-or-nothing
// and never blocks: it either reserves every key in one atomic step or fails
// without reserving any of them.
type Registry struct {
	mu   sync.Mutex
	held map[Key]struct{}
}

// NewRegistry returns an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{held: make(map[Key]struct{})}
}

// TryAcquire attempts to reserve every key in keys. On success all keys are
// held by the caller. On failure (any key already held) none of the keys are
// reserved, and the error names the first offending key. An empty key set
// always succeeds without touching the registry.
func (r *Registry) TryAcquire(keys []Key) error {
	if len(keys) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range keys {
		if _, taken := r.held[k]; taken {
			return fmt.Errorf("lock conflict: %s", k)
		}
	}
	for _, k := range keys {
		r.held[k] = struct{}{}
	}
	return nil
}

// Release removes each key in keys from the held set. Releasing a key that
// is not held is a no-op, so Release is safe to call multiple times or with
// a superset of what was actually acquired.
func (r *Registry) Release(keys []Key) {
	if len(keys) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range keys {
		delete(r.held, k)
	}
}

// Holds reports whether key is currently held. Exposed for diagnostics and
// tests; callers should not use it to decide whether TryAcquire will
// succeed, since that check is inherently racy outside the registry's own
// critical section.
func (r *Registry) Holds(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[key]
	return ok
}
