package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hako-launcher/internal/lock"
	"hako-launcher/internal/task"
)

func TestConcurrentGlobalCapBoundsRunningTasks(t *testing.T) {
	c := NewConcurrent(lock.NewRegistry(), 2)
	var running int32
	var maxObserved int32
	var wg sync.WaitGroup
	release := make(chan struct{})

	for i := 0; i < 5; i++ {
		body := &fnBody{typeName: "download_asset", run: func(ctx *task.Context) (any, error) {
			cur := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&maxObserved)
				if cur <= old || atomic.CompareAndSwapInt32(&maxObserved, old, cur) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
			return nil, nil
		}}
		d := task.Descriptor{Class: task.ClassConcurrent, Body: body}
		h, err := c.Submit(context.Background(), d)
		require.NoError(t, err)
		wg.Add(1)
		go func(h *task.Handle) {
			defer wg.Done()
			h.Result()
		}(h)
	}

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxObserved), int32(2))
	close(release)
	wg.Wait()
}

func TestConcurrentPerTypeCapIsMinWithGlobal(t *testing.T) {
	c := NewConcurrent(lock.NewRegistry(), 10)
	var running int32
	var maxObserved int32
	var wg sync.WaitGroup
	release := make(chan struct{})

	for i := 0; i < 5; i++ {
		body := &fnBody{typeName: "download_library", maxConcurrent: 2, run: func(ctx *task.Context) (any, error) {
			cur := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&maxObserved)
				if cur <= old || atomic.CompareAndSwapInt32(&maxObserved, old, cur) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
			return nil, nil
		}}
		d := task.Descriptor{Class: task.ClassConcurrent, Body: body}
		h, err := c.Submit(context.Background(), d)
		require.NoError(t, err)
		wg.Add(1)
		go func(h *task.Handle) {
			defer wg.Done()
			h.Result()
		}(h)
	}

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxObserved), int32(2))
	close(release)
	wg.Wait()
}

func TestConcurrentLockConflictSynchronous(t *testing.T) {
	reg := lock.NewRegistry()
	c := NewConcurrent(reg, 0)
	held := lock.Instance("version", "1.20.1")
	require.NoError(t, reg.TryAcquire([]lock.Key{held}))

	body := &fnBody{typeName: "download_version", run: func(ctx *task.Context) (any, error) { return nil, nil }}
	d := task.Descriptor{Class: task.ClassConcurrent, Keys: []lock.Key{held}, Body: body}
	_, err := c.Submit(context.Background(), d)
	require.Error(t, err)
	assert.ErrorIs(t, err, task.ErrLockConflict)
}

func TestConcurrentUncappedRunsInParallel(t *testing.T) {
	c := NewConcurrent(lock.NewRegistry(), 0)
	var wg sync.WaitGroup
	results := make([]int, 3)
	for i := 0; i < 3; i++ {
		i := i
		body := &fnBody{typeName: "uncapped", run: func(ctx *task.Context) (any, error) {
			return i, nil
		}}
		d := task.Descriptor{Class: task.ClassConcurrent, Body: body}
		h, err := c.Submit(context.Background(), d)
		require.NoError(t, err)
		wg.Add(1)
		go func(h *task.Handle, idx int) {
			defer wg.Done()
			v, err := h.Result()
			require.NoError(t, err)
			results[idx] = v.(int)
		}(h, i)
	}
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2}, results)
}
