package network

import (
	"sync"
	"time"
)

// CongestionController implements an AIMD (Additive Increase,
// Multiplicative Decrease) algorithm that sizes the width of the launch
// pipeline's parallel sub-task groups: InstallTask asks it for the ideal
// concurrency for "libraries.minecraft.net" or
// "resources.download.minecraft.net" before fanning out that host's
// downloads, so one host's recorded errors can shrink its own group
// width without affecting the other's. Recorded RTT is kept in HostStats
// but does not affect the width.
type CongestionController struct {
	mu         sync.RWMutex
	hosts      map[string]*HostStats
	baseRTT    time.Duration
	minWorkers int
	maxWorkers int
}

// HostStats tracks per-host network statistics for congestion control
type HostStats struct {
	LastRTT      time.Duration
	SmoothedRTT  time.Duration // SRTT
	ErrorRate    float64       // Errors per minute (decaying)
	Concurrency  int
	LastUpdate   time.Time
	SuccessCount int
	ErrorCount   int
}

// NewCongestionController creates a controller with min/max parallel
// sub-task group width bounds.
func NewCongestionController(min, max int) *CongestionController {
	return &CongestionController{
		hosts:      make(map[string]*HostStats),
		baseRTT:    100 * time.Millisecond, // Reasonable default
		minWorkers: min,
		maxWorkers: max,
	}
}

// RecordOutcome updates stats for a host based on one completed
// library/asset download against it.
func (cc *CongestionController) RecordOutcome(host string, latency time.Duration, err error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	stats, ok := cc.hosts[host]
	if !ok {
		stats = &HostStats{
			Concurrency: cc.minWorkers,
			SmoothedRTT: latency,
		}
		cc.hosts[host] = stats
	}

	// Exponential Moving Average for RTT
	alpha := 0.125
	stats.SmoothedRTT = time.Duration((1-alpha)*float64(stats.SmoothedRTT) + alpha*float64(latency))
	stats.LastRTT = latency
	stats.LastUpdate = time.Now()

	if err != nil {
		stats.ErrorCount++
	} else {
		stats.SuccessCount++
	}
}

// GetIdealConcurrency calculates the target parallel sub-task group width
// for host using AIMD logic: InstallTask calls this right before building
// the AddParallel group for that host's pending downloads.
func (cc *CongestionController) GetIdealConcurrency(host string) int {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	stats, ok := cc.hosts[host]
	if !ok {
		return cc.minWorkers // Slow start
	}

	// Decrease on congestion, signalled only by recorded errors;
	// RTT is not consulted here

	// Check for errors (Naive "packet loss" equivalent)
	if stats.ErrorCount > 0 {
		// Multiplicative Decrease
		stats.Concurrency = maxInt(1, stats.Concurrency/2)
		stats.ErrorCount = 0 // Reset after reacting
		return stats.Concurrency
	}

	// Additive Increase
	// Increase if stable and we have successful samples
	if stats.SuccessCount > stats.Concurrency {
		if stats.Concurrency < cc.maxWorkers {
			stats.Concurrency++
		}
		stats.SuccessCount = 0 // Reset for next window
	}

	return stats.Concurrency
}

// GetHostStats returns a copy of stats for a host (for testing/monitoring)
func (cc *CongestionController) GetHostStats(host string) *HostStats {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	stats, ok := cc.hosts[host]
	if !ok {
		return nil
	}
	// Return a copy
	copy := *stats
	return &copy
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
