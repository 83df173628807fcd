package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hako-launcher/internal/lock"
	"hako-launcher/internal/task"
)

type fnBody struct {
	typeName      string
	run           func(ctx *task.Context) (any, error)
	queueable     bool
	queueableSet  bool
	maxConcurrent int
}

func (b *fnBody) TypeName() string { return b.typeName }
func (b *fnBody) Execute(ctx *task.Context) (any, error) {
	return b.run(ctx)
}
func (b *fnBody) Queueable() bool {
	if !b.queueableSet {
		return true
	}
	return b.queueable
}
func (b *fnBody) MaxConcurrent() int { return b.maxConcurrent }

func notQueueable(typeName string, run func(ctx *task.Context) (any, error)) *fnBody {
	return &fnBody{typeName: typeName, run: run, queueable: false, queueableSet: true}
}

func TestBlockingNonQueueableConflict(t *testing.T) {
	b := NewBlocking(lock.NewRegistry())
	started := make(chan struct{})
	release := make(chan struct{})

	first := notQueueable("start_game", func(ctx *task.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	d1 := task.Descriptor{Class: task.ClassBlocking, Keys: []lock.Key{lock.Global("start_game")}, Body: first}

	_, err := b.Submit(context.Background(), d1)
	require.NoError(t, err)
	<-started

	second := notQueueable("start_game", func(ctx *task.Context) (any, error) { return nil, nil })
	d2 := task.Descriptor{Class: task.ClassBlocking, Keys: []lock.Key{lock.Global("start_game")}, Body: second}
	_, err = b.Submit(context.Background(), d2)
	require.Error(t, err)
	assert.ErrorIs(t, err, task.ErrLockConflict)

	close(release)
}

func TestBlockingSerialisesQueueableTasksFIFO(t *testing.T) {
	b := NewBlocking(lock.NewRegistry())
	var mu sync.Mutex
	var order []int
	var concurrent int32
	var maxConcurrent int32

	run := func(n int) func(ctx *task.Context) (any, error) {
		return func(ctx *task.Context) (any, error) {
			cur := atomic.AddInt32(&concurrent, 1)
			for {
				old := atomic.LoadInt32(&maxConcurrent)
				if cur <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			atomic.AddInt32(&concurrent, -1)
			return nil, nil
		}
	}

	var handles []*task.Handle
	for i := 0; i < 4; i++ {
		body := &fnBody{typeName: "sync_assets", run: run(i)}
		d := task.Descriptor{Class: task.ClassBlocking, Keys: []lock.Key{lock.Global("sync_assets")}, Body: body}
		h, err := b.Submit(context.Background(), d)
		require.NoError(t, err)
		handles = append(handles, h)
	}

	for _, h := range handles {
		_, err := h.Result()
		require.NoError(t, err)
	}

	assert.Equal(t, []int{0, 1, 2, 3}, order)
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxConcurrent))
}

func TestBlockingReleasesLocksOnPanic(t *testing.T) {
	b := NewBlocking(lock.NewRegistry())
	body := &fnBody{typeName: "panics", run: func(ctx *task.Context) (any, error) {
		panic("boom")
	}}
	d := task.Descriptor{Class: task.ClassBlocking, Keys: []lock.Key{lock.Instance("panics", "x")}, Body: body}

	h, err := b.Submit(context.Background(), d)
	require.NoError(t, err)

	_, resErr := h.Result()
	require.Error(t, resErr)
	assert.Equal(t, task.StateFailed, h.State())

	body2 := &fnBody{typeName: "panics", run: func(ctx *task.Context) (any, error) { return "ok", nil }}
	d2 := task.Descriptor{Class: task.ClassBlocking, Keys: []lock.Key{lock.Instance("panics", "x")}, Body: body2}
	h2, err := b.Submit(context.Background(), d2)
	require.NoError(t, err)
	v, err := h2.Result()
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestBlockingCancelPropagation(t *testing.T) {
	b := NewBlocking(lock.NewRegistry())
	observed := make(chan struct{})
	body := &fnBody{typeName: "cancellable", run: func(ctx *task.Context) (any, error) {
		<-ctx.Done()
		close(observed)
		return nil, task.ErrCancelled
	}}
	d := task.Descriptor{Class: task.ClassBlocking, Body: body}

	h, err := b.Submit(context.Background(), d)
	require.NoError(t, err)

	require.NoError(t, h.Cancel())
	select {
	case <-observed:
	case <-time.After(time.Second):
		t.Fatal("task body never observed cancellation")
	}

	_, err = h.Result()
	require.ErrorIs(t, err, task.ErrCancelled)
	assert.Equal(t, task.StateCancelled, h.State())
}

func TestBlockingBoostReordersWaitingQueue(t *testing.T) {
	b := NewBlocking(lock.NewRegistry())
	release := make(chan struct{})
	started := make(chan struct{})

	blocker := notQueueable("boostable", func(ctx *task.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	blocker.queueable = true
	d0 := task.Descriptor{Class: task.ClassBlocking, Keys: []lock.Key{lock.Global("boostable")}, Body: blocker}
	_, err := b.Submit(context.Background(), d0)
	require.NoError(t, err)
	<-started

	var mu sync.Mutex
	var order []int
	var ids []task.ID
	for i := 0; i < 3; i++ {
		n := i
		body := &fnBody{typeName: "boostable", run: func(ctx *task.Context) (any, error) {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			return nil, nil
		}}
		d := task.Descriptor{Class: task.ClassBlocking, Keys: []lock.Key{lock.Global("boostable")}, Body: body}
		h, err := b.Submit(context.Background(), d)
		require.NoError(t, err)
		ids = append(ids, h.ID)
	}

	require.True(t, b.Boost("boostable", ids[2]))
	close(release)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 3)
	assert.Equal(t, 2, order[0])
}

func TestBlockingEmptyKeySetSucceeds(t *testing.T) {
	b := NewBlocking(lock.NewRegistry())
	body := &fnBody{typeName: "noop", run: func(ctx *task.Context) (any, error) { return nil, nil }}
	d := task.Descriptor{Class: task.ClassBlocking, Body: body}
	h, err := b.Submit(context.Background(), d)
	require.NoError(t, err)
	_, err = h.Result()
	require.NoError(t, err)
}

func TestBlockingLockConflictOnNonGlobalKey(t *testing.T) {
	reg := lock.NewRegistry()
	b := NewBlocking(reg)
	hold := lock.Instance("library", "lwjgl")
	require.NoError(t, reg.TryAcquire([]lock.Key{hold}))

	body := &fnBody{typeName: "download", run: func(ctx *task.Context) (any, error) { return nil, nil }}
	d := task.Descriptor{Class: task.ClassBlocking, Keys: []lock.Key{hold}, Body: body}
	_, err := b.Submit(context.Background(), d)
	require.Error(t, err)
	assert.True(t, errors.Is(err, task.ErrLockConflict))
}

// TestAdvanceQueueReservesRunningSlotForPoppedWaiter guards against the
// gap where a waiter was dequeued and notified but running[typeName]
// wasn't updated until it re-acquired the lock itself: in that window a
// fresh non-queueable submission could see the type as free and race the
// just-woken waiter. advanceQueue must make the pop and the running[]
// reservation atomic under the same lock.
func TestAdvanceQueueReservesRunningSlotForPoppedWaiter(t *testing.T) {
	b := NewBlocking(lock.NewRegistry())
	typeName := "game.launch"
	waiterID := task.NewID()
	waiter := &pendingWaiter{taskID: waiterID, notify: make(chan struct{})}

	b.mu.Lock()
	b.queues[typeName] = []*pendingWaiter{waiter}
	b.mu.Unlock()

	b.mu.Lock()
	b.advanceQueue(typeName)
	running, reserved := b.running[typeName]
	b.mu.Unlock()

	require.True(t, reserved, "running[typeName] must be reserved for the popped waiter before it is woken")
	assert.Equal(t, waiterID, running)

	select {
	case <-waiter.notify:
	default:
		t.Fatal("popped waiter was never notified")
	}

	b.mu.Lock()
	b.advanceQueue(typeName)
	_, stillReserved := b.running[typeName]
	b.mu.Unlock()
	assert.False(t, stillReserved, "running[typeName] must clear once the queue is empty")
}

// TestBlockingNonQueueableSubmissionCannotRaceWokenWaiter is a
// timing-based regression check: while A holds the type lock and B waits
// behind it, releasing A and immediately trying to submit a
// non-queueable C must never see the type as free — C must consistently
// get a conflict, and B must still be the one to run next.
func TestBlockingNonQueueableSubmissionCannotRaceWokenWaiter(t *testing.T) {
	b := NewBlocking(lock.NewRegistry())
	releaseA := make(chan struct{})
	aRunning := make(chan struct{})

	bodyA := notQueueable("game.launch", func(ctx *task.Context) (any, error) {
		close(aRunning)
		<-releaseA
		return nil, nil
	})
	bodyA.queueable = true
	keyA := lock.Global("game.launch")
	dA := task.Descriptor{Class: task.ClassBlocking, Keys: []lock.Key{keyA}, Body: bodyA}
	hA, err := b.Submit(context.Background(), dA)
	require.NoError(t, err)
	<-aRunning

	bRan := make(chan struct{})
	bodyB := notQueueable("game.launch", func(ctx *task.Context) (any, error) {
		close(bRan)
		return nil, nil
	})
	bodyB.queueable = true
	dB := task.Descriptor{Class: task.ClassBlocking, Keys: []lock.Key{keyA}, Body: bodyB}

	var hB *task.Handle
	var bSubmitErr error
	bSubmitted := make(chan struct{})
	go func() {
		hB, bSubmitErr = b.Submit(context.Background(), dB)
		close(bSubmitted)
	}()

	// Give B time to enqueue behind A before releasing A.
	time.Sleep(20 * time.Millisecond)
	close(releaseA)
	_, err = hA.Result()
	require.NoError(t, err)

	dC := task.Descriptor{
		Class: task.ClassBlocking,
		Keys:  []lock.Key{keyA},
		Body:  notQueueable("game.launch", func(ctx *task.Context) (any, error) { return nil, nil }),
	}
	_, errC := b.Submit(context.Background(), dC)
	require.Error(t, errC, "a non-queueable submission racing a just-woken waiter must see a conflict, not a free type")
	assert.True(t, errors.Is(errC, task.ErrLockConflict))

	<-bSubmitted
	require.NoError(t, bSubmitErr)
	<-bRan
	_, err = hB.Result()
	require.NoError(t, err)
}
