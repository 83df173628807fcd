package lock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireDisjointSucceedsConcurrently(t *testing.T) {
	r := NewRegistry()
	k1 := Instance("download", "a")
	k2 := Instance("download", "b")

	require.NoError(t, r.TryAcquire([]Key{k1}))
	require.NoError(t, r.TryAcquire([]Key{k2}))

	assert.True(t, r.Holds(k1))
	assert.True(t, r.Holds(k2))
}

func TestTryAcquireOverlappingOnlyOneSucceeds(t *testing.T) {
	r := NewRegistry()
	keys := []Key{Global("start_game")}

	require.NoError(t, r.TryAcquire(keys))
	err := r.TryAcquire(keys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start_game")
}

func TestTryAcquireAllOrNothing(t *testing.T) {
	r := NewRegistry()
	busy := Instance("library", "lwjgl")
	require.NoError(t, r.TryAcquire([]Key{busy}))

	free := Instance("library", "guava")
	err := r.TryAcquire([]Key{free, busy})
	require.Error(t, err)
	assert.False(t, r.Holds(free), "partial acquisition must not leak a held key")
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := NewRegistry()
	k := Instance("download", "x")
	require.NoError(t, r.TryAcquire([]Key{k}))

	r.Release([]Key{k})
	r.Release([]Key{k})
	assert.False(t, r.Holds(k))

	require.NoError(t, r.TryAcquire([]Key{k}), "key must be re-acquirable after release")
}

func TestEmptyKeySetIsNoOp(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.TryAcquire(nil))
	r.Release(nil)
}

func TestConcurrentAcquireReleaseRaceSafety(t *testing.T) {
	r := NewRegistry()
	k := Global("start_game")

	var wg sync.WaitGroup
	successes := make(chan struct{}, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.TryAcquire([]Key{k}); err == nil {
				successes <- struct{}{}
				r.Release([]Key{k})
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	assert.True(t, count > 0)
}
