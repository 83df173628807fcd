// Package network shapes the Download Engine's byte stream and sizes the
// launch pipeline's asset/library fan-out: BandwidthManager throttles
// total throughput across every concurrent download, and
// CongestionController (congestion.go) picks how many downloads to run
// in parallel per host.
package network

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// BandwidthManager throttles the Download Engine's total byte rate across
// every in-flight download (library jars, the client jar, asset objects)
// with zero overhead when no limit is configured.
type BandwidthManager struct {
	globalLimiter *rate.Limiter
	limitEnabled  atomic.Bool
	mu            sync.RWMutex

	// Keyed by whatever the caller identifies a stream by (a request
	// host, a task id) -> priority level (1=Low, 2=Normal, 3=High).
	taskPriorities map[string]int
}

// NewBandwidthManager creates a new bandwidth manager with no limits
func NewBandwidthManager() *BandwidthManager {
	return &BandwidthManager{
		// Unlimited initially; limitEnabled=false also skips the limiter
		globalLimiter:  rate.NewLimiter(rate.Inf, 0),
		taskPriorities: make(map[string]int),
	}
}

// SetLimit updates the global speed limit in bytes per second
// 0 means unlimited
func (bm *BandwidthManager) SetLimit(bytesPerSec int) {
	if bytesPerSec <= 0 {
		bm.limitEnabled.Store(false)
		bm.globalLimiter.SetLimit(rate.Inf)
	} else {
		bm.limitEnabled.Store(true)
		bm.globalLimiter.SetLimit(rate.Limit(bytesPerSec))
		bm.globalLimiter.SetBurst(bytesPerSec) // Allow 1s burst
	}
}

// SetTaskPriority sets the priority for a specific stream key (a launch's
// foreground download vs. a background asset-sync fan-out, say), so Wait
// can yield bandwidth to the higher-priority one.
func (bm *BandwidthManager) SetTaskPriority(streamKey string, priority int) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.taskPriorities[streamKey] = priority
}

// Wait blocks until the requested chunk of downloaded bytes can be
// consumed under the global limit. Returns fast if no limit is configured.
func (bm *BandwidthManager) Wait(ctx context.Context, streamKey string, bytes int) error {
	// 1. FAST PATH: Zero overhead check
	if !bm.limitEnabled.Load() {
		return nil
	}

	// 2. Priority Logic
	bm.mu.RLock()
	priority, ok := bm.taskPriorities[streamKey]
	if !ok {
		priority = 2 // Default Normal
	}
	bm.mu.RUnlock()

	// High Priority (3): Just wait
	// Normal Priority (2): Wait
	// Low Priority (1): Wait + Micro-sleep if constrained

	err := bm.globalLimiter.WaitN(ctx, bytes)
	if err != nil {
		return err
	}

	if priority == 1 {
		// Artificial delay for low priority tasks to yield to high priority ones
		time.Sleep(10 * time.Millisecond)
	}

	return nil
}
