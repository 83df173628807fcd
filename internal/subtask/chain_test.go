package subtask

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fnStep struct {
	run   func(ctx *Context) error
	count int32
}

func (s *fnStep) Execute(ctx *Context) error {
	atomic.AddInt32(&s.count, 1)
	return s.run(ctx)
}

type retryStep struct {
	fnStep
	policy      RetryPolicy
	failUntil   int32
}

func (s *retryStep) RetryPolicy() RetryPolicy { return s.policy }

func TestChainRunsSequentialStepsInOrder(t *testing.T) {
	var order []int
	chain := New().
		Add(&fnStep{run: func(*Context) error { order = append(order, 1); return nil }}).
		Add(&fnStep{run: func(*Context) error { order = append(order, 2); return nil }})

	err := chain.Execute(NewContext(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, order)
}

func TestChainStopsAtFirstSequentialError(t *testing.T) {
	boom := errors.New("boom")
	ran2 := false
	chain := New().
		Add(&fnStep{run: func(*Context) error { return boom }}).
		Add(&fnStep{run: func(*Context) error { ran2 = true; return nil }})

	err := chain.Execute(NewContext(context.Background()))
	require.ErrorIs(t, err, boom)
	assert.False(t, ran2)
}

func TestConditionalStepSkipsWhenFalse(t *testing.T) {
	ran := false
	step := &condStep{
		fnStep: fnStep{run: func(*Context) error { ran = true; return nil }},
		cond:   false,
	}
	chain := New().Add(step)
	require.NoError(t, chain.Execute(NewContext(context.Background())))
	assert.False(t, ran)
}

type condStep struct {
	fnStep
	cond bool
}

func (s *condStep) Condition(*Context) bool { return s.cond }

func TestRetryableStepRetriesUntilSuccess(t *testing.T) {
	attempts := int32(0)
	step := &retryStep{
		fnStep: fnStep{run: func(*Context) error {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				return errors.New("transient")
			}
			return nil
		}},
		policy: RetryPolicy{MaxRetries: 5, RetryDelay: time.Millisecond},
	}
	chain := New().Add(step)
	require.NoError(t, chain.Execute(NewContext(context.Background())))
	assert.Equal(t, int32(3), attempts)
}

func TestRetryableStepExhaustsAndReturnsLastError(t *testing.T) {
	lastErr := errors.New("still failing")
	step := &retryStep{
		fnStep: fnStep{run: func(*Context) error { return lastErr }},
		policy: RetryPolicy{MaxRetries: 2, RetryDelay: time.Millisecond},
	}
	chain := New().Add(step)
	err := chain.Execute(NewContext(context.Background()))
	require.ErrorIs(t, err, lastErr)
	assert.Equal(t, int32(3), step.count) // initial attempt + 2 retries
}

func TestParallelGroupRunsAllWithinCap(t *testing.T) {
	var concurrent int32
	var maxSeen int32
	mkStep := func() Step {
		return &fnStep{run: func(*Context) error {
			n := atomic.AddInt32(&concurrent, 1)
			defer atomic.AddInt32(&concurrent, -1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return nil
		}}
	}
	steps := []Step{mkStep(), mkStep(), mkStep(), mkStep()}
	chain := New().AddParallel(steps, 2)
	require.NoError(t, chain.Execute(NewContext(context.Background())))
	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxSeen)), 2)
}

func TestParallelGroupReportsFirstError(t *testing.T) {
	boom := errors.New("group boom")
	steps := []Step{
		&fnStep{run: func(*Context) error { return nil }},
		&fnStep{run: func(*Context) error { return boom }},
	}
	chain := New().AddParallel(steps, 0)
	err := chain.Execute(NewContext(context.Background()))
	require.ErrorIs(t, err, boom)
}

func TestChainObservesCancellationBeforeNextItem(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ran2 := false
	chain := New().
		Add(&fnStep{run: func(*Context) error { cancel(); return nil }}).
		Add(&fnStep{run: func(*Context) error { ran2 = true; return nil }})

	err := chain.Execute(NewContext(ctx))
	require.ErrorIs(t, err, ErrCancelled)
	assert.False(t, ran2)
}

func TestParallelGroupCancelsSiblingsOnFirstError(t *testing.T) {
	boom := errors.New("group boom")
	siblingCancelled := make(chan struct{}, 1)
	steps := []Step{
		&fnStep{run: func(*Context) error { return boom }},
		&fnStep{run: func(ctx *Context) error {
			select {
			case <-ctx.Done():
				siblingCancelled <- struct{}{}
				return ErrCancelled
			case <-time.After(2 * time.Second):
				return nil
			}
		}},
	}
	chain := New().AddParallel(steps, 2)
	err := chain.Execute(NewContext(context.Background()))
	require.ErrorIs(t, err, boom)

	select {
	case <-siblingCancelled:
	case <-time.After(time.Second):
		t.Fatal("sibling step never observed cancellation after group's first error")
	}
}

func TestParallelStepPanicIsConvertedToError(t *testing.T) {
	steps := []Step{
		&fnStep{run: func(*Context) error { panic("kaboom") }},
	}
	chain := New().AddParallel(steps, 1)
	err := chain.Execute(NewContext(context.Background()))
	require.Error(t, err)
}
