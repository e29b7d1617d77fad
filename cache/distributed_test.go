package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-metacache/types"
)

func TestDistributedCache_SetFlushGet(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBackend(t, 0)
	a := newDistributed(t, store, testDistributedConfig())
	b := newDistributed(t, store, testDistributedConfig())

	require.NoError(t, a.Set(ctx, "k", "v", types.WithTTL(time.Minute)))

	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "buffered write is not visible to other processes")

	failed, err := a.Flush(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, failed)

	value, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", value)

	_, err = b.Value(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrCacheNotFound)
}

func TestDistributedCache_WriteBehindBatching(t *testing.T) {
	ctx := context.Background()
	counting := &countingBackend{Backend: newMemoryBackend(t, 0)}
	c := newDistributed(t, counting, testDistributedConfig())

	require.NoError(t, c.Set(ctx, "k1", "a", types.WithTTL(time.Minute)))
	require.NoError(t, c.Set(ctx, "k2", "b", types.WithLifetime(types.Permanent())))
	assert.Empty(t, counting.batches())

	require.NoError(t, c.Set(ctx, "k3", "c", types.WithTTL(time.Minute)))
	assert.ElementsMatch(t, []time.Duration{0, time.Minute}, counting.batches())
	assert.Zero(t, counting.singleSets())
	assert.Zero(t, c.bufferLen())

	for key, want := range map[string]string{"k1": "a", "k2": "b", "k3": "c"} {
		data, ok, err := counting.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok, key)
		assert.Equal(t, fmt.Sprintf("%q", want), string(data))
	}
}

func TestDistributedCache_TimeTriggeredFlush(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	counting := &countingBackend{Backend: newMemoryBackend(t, 0)}
	config := testDistributedConfig()
	config.LocalSize = 100
	config.LocalTime = time.Minute
	c := newDistributed(t, counting, config, WithClock(clock.Now))

	require.NoError(t, c.Set(ctx, "k1", "a"))
	clock.Advance(time.Minute)
	require.NoError(t, c.Set(ctx, "k2", "b"))
	assert.Empty(t, counting.batches())

	clock.Advance(time.Second)
	require.NoError(t, c.Set(ctx, "k3", "c"))
	assert.Len(t, counting.batches(), 1)
}

func TestDistributedCache_SetLocalNeverFlushes(t *testing.T) {
	counting := &countingBackend{Backend: newMemoryBackend(t, 0)}
	c := newDistributed(t, counting, testDistributedConfig())

	for i := 0; i < 10; i++ {
		require.NoError(t, c.SetLocal(fmt.Sprintf("k%d", i), "v"))
	}
	assert.Empty(t, counting.batches())

	value, ok := c.GetLocal("k7")
	assert.True(t, ok)
	assert.Equal(t, "v", value)
}

func TestDistributedCache_PauseSuppressesFlush(t *testing.T) {
	ctx := context.Background()
	counting := &countingBackend{Backend: newMemoryBackend(t, 0)}
	config := testDistributedConfig()
	config.LocalSize = 2
	c := newDistributed(t, counting, config)

	c.Pause()
	assert.True(t, c.IsPaused())
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), "v", types.WithTTL(time.Hour)))
	}
	assert.Empty(t, counting.batches())

	require.NoError(t, c.Resume(ctx))
	assert.False(t, c.IsPaused())
	assert.Equal(t, []time.Duration{time.Hour}, counting.batches())
	assert.Zero(t, c.bufferLen())
}

func TestDistributedCache_SetPauseOption(t *testing.T) {
	ctx := context.Background()
	counting := &countingBackend{Backend: newMemoryBackend(t, 0)}
	config := testDistributedConfig()
	config.LocalSize = 1
	c := newDistributed(t, counting, config)

	require.NoError(t, c.Set(ctx, "k", "v", types.WithPause()))
	assert.Empty(t, counting.batches())

	require.NoError(t, c.SetMulti(ctx, map[string]string{"a": "1", "b": "2"}))
	assert.Len(t, counting.batches(), 1)
}

func TestDistributedCache_Permanence(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newMemoryBackend(t, 0)
	c := newDistributed(t, store, testDistributedConfig(), WithClock(clock.Now))

	require.NoError(t, c.Set(ctx, "config", "stable", types.WithLifetime(types.Permanent())))
	_, err := c.Flush(ctx, true)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		clock.Advance(24 * time.Hour)
		value, ok, err := c.Get(ctx, "config")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "stable", value)
	}
}

func TestDistributedCache_SelfHealingPermanent(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBackend(t, 0)
	c := newDistributed(t, store, testDistributedConfig())

	require.NoError(t, c.Set(ctx, "p", "kept", types.WithLifetime(types.Permanent())))
	_, err := c.Flush(ctx, true)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "p"))

	value, ok, err := c.Get(ctx, "p")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "kept", value)

	data, ok, err := store.Get(ctx, "p")
	require.NoError(t, err)
	assert.True(t, ok, "value written back to the backend")
	assert.Equal(t, `"kept"`, string(data))
}

func TestDistributedCache_NoRestoreAcrossClear(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBackend(t, 0)
	writer := newDistributed(t, store, testDistributedConfig())

	require.NoError(t, writer.Set(ctx, "p", "stale", types.WithLifetime(types.Permanent())))
	_, err := writer.Flush(ctx, true)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "p"))

	racing := &clearingBackend{MemoryStore: store}
	writer.backend = racing

	_, ok, err := writer.Get(ctx, "p")
	require.NoError(t, err)
	assert.False(t, ok, "value from the previous generation is not served")
	assert.True(t, writer.WasCleared())

	_, ok, err = store.Get(ctx, "p")
	require.NoError(t, err)
	assert.False(t, ok, "value from the previous generation is not written back")
}

func TestDistributedCache_ShadowDroppedWhenLifetimeChanges(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBackend(t, 0)
	c := newDistributed(t, store, testDistributedConfig())

	require.NoError(t, c.Set(ctx, "k", "p", types.WithLifetime(types.Permanent())))
	_, err := c.Flush(ctx, true)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "k", "t", types.WithTTL(time.Minute)))
	_, err = c.Flush(ctx, true)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "k"))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDistributedCache_OversizeIsolation(t *testing.T) {
	ctx := context.Background()
	counting := &countingBackend{Backend: newMemoryBackend(t, 32)}
	a := newDistributed(t, counting, testDistributedConfig())
	b := newDistributed(t, counting, testDistributedConfig())
	big := strings.Repeat("x", 100)

	require.NoError(t, a.Set(ctx, "big", big, types.WithTTL(time.Hour)))
	require.NoError(t, a.Set(ctx, "small", "s", types.WithTTL(time.Hour)))
	failed, err := a.Flush(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"big"}, failed)

	value, ok, err := a.Get(ctx, "big")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, big, value)

	_, ok, err = b.Get(ctx, "big")
	require.NoError(t, err)
	assert.False(t, ok)

	value, ok, err = b.Get(ctx, "small")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s", value)

	sets := counting.singleSets()
	require.NoError(t, a.Set(ctx, "big", big+"y"))
	_, err = a.Flush(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, sets, counting.singleSets(), "oversize key never goes back to the backend")

	value, ok = a.GetLocal("big")
	assert.True(t, ok)
	assert.Equal(t, big+"y", value)

	require.NoError(t, a.Delete(ctx, "big"))
	_, ok = a.GetLocal("big")
	assert.False(t, ok)
}

func TestDistributedCache_OversizeFallbackDisabled(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBackend(t, 32)
	config := testDistributedConfig()
	config.OversizeFallback = false
	c := newDistributed(t, store, config)

	require.NoError(t, c.Set(ctx, "big", strings.Repeat("x", 100)))
	failed, err := c.Flush(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"big"}, failed)

	_, ok, err := c.Get(ctx, "big")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDistributedCache_RejectedPermanentValueForgotten(t *testing.T) {
	ctx := context.Background()
	counting := &countingBackend{Backend: newMemoryBackend(t, 32)}
	config := testDistributedConfig()
	config.OversizeFallback = false
	c := newDistributed(t, counting, config)

	require.NoError(t, c.Set(ctx, "big", strings.Repeat("x", 100), types.WithLifetime(types.Permanent())))
	failed, err := c.Flush(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"big"}, failed)

	batches := len(counting.batches())
	for i := 0; i < 3; i++ {
		_, ok, err := c.Get(ctx, "big")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Len(t, counting.batches(), batches, "rejected value is not written back")

	_, ok, err := counting.Get(ctx, "big")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDistributedCache_FailedFlushDropsKeys(t *testing.T) {
	ctx := context.Background()
	counting := &countingBackend{
		Backend:     newMemoryBackend(t, 0),
		setMultiErr: errors.New("connection reset"),
	}
	c := newDistributed(t, counting, testDistributedConfig())

	require.NoError(t, c.SetLocal("b", "2", types.WithTTL(time.Minute)))
	require.NoError(t, c.SetLocal("a", "1", types.WithTTL(time.Minute)))

	failed, err := c.Flush(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, failed)
	assert.Zero(t, c.bufferLen())

	_, ok := c.GetLocal("a")
	assert.False(t, ok)
}

func TestDistributedCache_GenerationPropagation(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBackend(t, 0)
	a := newDistributed(t, store, testDistributedConfig())
	b := newDistributed(t, store, testDistributedConfig())

	require.NoError(t, b.Set(ctx, "p", "v", types.WithLifetime(types.Permanent())))
	_, err := b.Flush(ctx, true)
	require.NoError(t, err)
	require.NoError(t, b.SetLocal("pending", "v"))

	require.NoError(t, a.Clear(ctx, false))
	assert.False(t, a.WasCleared(), "own clear is not a replicated one")

	blocked, err := b.IsBlocked(ctx)
	require.NoError(t, err)
	assert.False(t, blocked)

	assert.True(t, b.WasCleared())
	assert.False(t, b.WasCleared(), "flag resets once reported")

	_, ok := b.GetLocal("p")
	assert.False(t, ok)
	_, ok = b.GetLocal("pending")
	assert.False(t, ok)

	_, ok, err = b.Get(ctx, "p")
	require.NoError(t, err)
	assert.False(t, ok)

	cleared, err := b.ReplicateClearIfNecessary(ctx)
	require.NoError(t, err)
	assert.False(t, cleared)
}

func TestDistributedCache_ReplicateClear(t *testing.T) {
	c := newDistributed(t, newMemoryBackend(t, 0), testDistributedConfig())

	require.NoError(t, c.SetLocal("k", "v"))
	c.ReplicateClear(5)

	_, ok := c.GetLocal("k")
	assert.False(t, ok)
	assert.True(t, c.WasCleared())
	assert.Equal(t, int64(5), c.currentGeneration())
}

func TestDistributedCache_LockMutualExclusion(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBackend(t, 0)
	a := newDistributed(t, store, testDistributedConfig())
	b := newDistributed(t, store, testDistributedConfig())

	require.NoError(t, a.Block(ctx))

	blocked, err := a.IsBlocked(ctx)
	require.NoError(t, err)
	assert.False(t, blocked, "holder is not blocked by its own lock")

	blocked, err = b.IsBlocked(ctx)
	require.NoError(t, err)
	assert.True(t, blocked)

	type result struct {
		value string
		ok    bool
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, ok, err := b.Get(ctx, "k")
		done <- result{value: value, ok: ok, err: err}
	}()

	select {
	case <-done:
		t.Fatal("read returned while another process held the lock")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, a.Set(ctx, "k", "fresh", types.WithPause()))
	released, err := a.Unblock(ctx, true)
	require.NoError(t, err)
	assert.True(t, released)

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.True(t, res.ok)
		assert.Equal(t, "fresh", res.value)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not resume after unblock")
	}
}

func TestDistributedCache_GetNowIgnoresLock(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBackend(t, 0)
	a := newDistributed(t, store, testDistributedConfig())
	b := newDistributed(t, store, testDistributedConfig())

	require.NoError(t, store.Set(ctx, "k", []byte(`"v"`), 0))
	require.NoError(t, a.Block(ctx))

	value, ok, err := b.GetNow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", value)
}

func TestDistributedCache_WaitHonoursContext(t *testing.T) {
	store := newMemoryBackend(t, 0)
	a := newDistributed(t, store, testDistributedConfig())
	b := newDistributed(t, store, testDistributedConfig())

	require.NoError(t, a.Block(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := b.Get(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDistributedCache_GetSingleRoundTrip(t *testing.T) {
	ctx := context.Background()
	counting := &countingBackend{Backend: newMemoryBackend(t, 0)}
	c := newDistributed(t, counting, testDistributedConfig())
	require.NoError(t, counting.Set(ctx, "k", []byte(`"v"`), 0))

	controls, reads := counting.roundTrips()

	value, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", value)

	_, ok, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	values, err := c.GetMulti(ctx, []string{"k", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k": "v"}, values)

	afterControls, afterReads := counting.roundTrips()
	assert.Equal(t, controls, afterControls, "lock state comes with the data")
	assert.Equal(t, reads+3, afterReads)
}

func TestDistributedCache_StopWaitsForForeignLock(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBackend(t, 0)
	a := newDistributed(t, store, testDistributedConfig())
	b := newDistributed(t, store, testDistributedConfig())
	require.NoError(t, b.Start())

	require.NoError(t, a.Block(ctx))
	require.NoError(t, b.Set(ctx, "k", "v"))

	done := make(chan error, 1)
	go func() { done <- b.Stop() }()

	select {
	case <-done:
		t.Fatal("stop returned while another process held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	released, err := a.Unblock(ctx, false)
	require.NoError(t, err)
	assert.True(t, released)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not finish after unblock")
	}

	data, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `"v"`, string(data))
}

func TestDistributedCache_StopReportsLostWrites(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBackend(t, 0)
	a := newDistributed(t, store, testDistributedConfig())
	b := newDistributed(t, store, testDistributedConfig())
	b.stopTimeout = 50 * time.Millisecond
	require.NoError(t, b.Start())

	require.NoError(t, a.Block(ctx))
	require.NoError(t, b.Set(ctx, "k", "v"))

	err := b.Stop()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDistributedCache_UnblockRefused(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBackend(t, 0)
	a := newDistributed(t, store, testDistributedConfig())
	b := newDistributed(t, store, testDistributedConfig())

	released, err := a.Unblock(ctx, false)
	require.NoError(t, err)
	assert.False(t, released, "nothing to release")

	require.NoError(t, a.Block(ctx))

	released, err = b.Unblock(ctx, false)
	require.NoError(t, err)
	assert.False(t, released)

	blocked, err := b.IsBlocked(ctx)
	require.NoError(t, err)
	assert.True(t, blocked)

	released, err = a.Unblock(ctx, false)
	require.NoError(t, err)
	assert.True(t, released)

	blocked, err = b.IsBlocked(ctx)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestDistributedCache_FlushDeferredWhileBlocked(t *testing.T) {
	ctx := context.Background()
	counting := &countingBackend{Backend: newMemoryBackend(t, 0)}
	config := testDistributedConfig()
	config.LocalSize = 1
	a := newDistributed(t, counting, config)
	b := newDistributed(t, counting, config)

	require.NoError(t, a.Block(ctx))
	require.NoError(t, b.Set(ctx, "k", "v"))
	assert.Empty(t, counting.batches())

	value, ok := b.GetLocal("k")
	assert.True(t, ok)
	assert.Equal(t, "v", value)

	_, err := a.Unblock(ctx, false)
	require.NoError(t, err)

	failed, err := b.Flush(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.Len(t, counting.batches(), 1)
}

func TestDistributedCache_LockExpires(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBackend(t, 0)
	config := testDistributedConfig()
	config.LockTTL = 30 * time.Millisecond
	a := newDistributed(t, store, config)
	b := newDistributed(t, store, config)

	require.NoError(t, a.Block(ctx))

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_, _, err := b.Get(waitCtx, "k")
	assert.NoError(t, err, "reader proceeds once the abandoned lock expires")
}

func TestDistributedCache_StrictLock(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBackend(t, 0)
	config := testDistributedConfig()
	config.StrictLock = true
	a := newDistributed(t, store, config)
	b := newDistributed(t, store, config)

	require.NoError(t, a.Block(ctx))

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Block(waitCtx), context.DeadlineExceeded)

	released, err := a.Unblock(ctx, false)
	require.NoError(t, err)
	require.True(t, released)

	require.NoError(t, b.Block(ctx))
	state, err := store.Control(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.Owner(), state.LockOwner)
}

func TestDistributedCache_ClearKeepsLock(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBackend(t, 0)
	a := newDistributed(t, store, testDistributedConfig())
	b := newDistributed(t, store, testDistributedConfig())

	require.NoError(t, store.Set(ctx, "k", []byte(`"v"`), 0))
	require.NoError(t, a.Clear(ctx, true))

	blocked, err := b.IsBlocked(ctx)
	require.NoError(t, err)
	assert.True(t, blocked)

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := a.Unblock(ctx, false)
	require.NoError(t, err)
	assert.True(t, released)
}

func TestDistributedCache_GetMultiLayers(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBackend(t, 0)
	c := newDistributed(t, store, testDistributedConfig())

	require.NoError(t, store.Set(ctx, "remote", []byte(`"r"`), 0))
	require.NoError(t, c.Set(ctx, "shadowed", "s", types.WithLifetime(types.Permanent())))
	_, err := c.Flush(ctx, true)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "shadowed"))
	require.NoError(t, c.SetLocal("buffered", "b"))

	values, err := c.GetMulti(ctx, []string{"remote", "shadowed", "buffered", "absent"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"remote": "r", "shadowed": "s", "buffered": "b"}, values)

	ok, err := c.Contains(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDistributedCache_DeleteMulti(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBackend(t, 0)
	c := newDistributed(t, store, testDistributedConfig())

	require.NoError(t, c.SetMulti(ctx, map[string]string{"a": "1", "b": "2"}, types.WithLifetime(types.Permanent())))
	_, err := c.Flush(ctx, true)
	require.NoError(t, err)
	require.NoError(t, c.SetLocal("c", "3"))

	require.NoError(t, c.DeleteMulti(ctx, []string{"a", "b", "c"}))

	for _, key := range []string{"a", "b", "c"} {
		_, ok, err := c.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
	assert.ErrorIs(t, c.Delete(ctx, ""), types.ErrCacheKeyEmpty)
}

func TestDistributedCache_LenAndLifecycle(t *testing.T) {
	ctx := context.Background()
	counting := &countingBackend{Backend: newMemoryBackend(t, 0)}
	c := newDistributed(t, counting, testDistributedConfig())

	require.NoError(t, c.Start())
	require.NoError(t, counting.Set(ctx, "remote", []byte(`"r"`), 0))
	require.NoError(t, c.SetLocal("pending", "p"))

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, c.Stop())
	assert.Len(t, counting.batches(), 1, "stop flushes the buffer")
	assert.ErrorIs(t, c.Stop(), types.ErrServerNotRunning)
}

func TestDistributedCache_RequiresBackend(t *testing.T) {
	_, err := NewDistributedCache[string](context.Background(), nil, nil)
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestDistributedCache_AdoptsExistingGeneration(t *testing.T) {
	ctx := context.Background()
	store := newMemoryBackend(t, 0)
	_, err := store.Reset(ctx, "other", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.ReleaseLock(ctx))

	c := newDistributed(t, store, testDistributedConfig())
	assert.Equal(t, int64(1), c.currentGeneration())

	_, _, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, c.WasCleared())
}

func TestMergeDistributedConfig(t *testing.T) {
	merged := mergeDistributedConfig(DefaultDistributedConfig(), &types.DistributedConfig{LocalSize: 7, StrictLock: true})

	assert.Equal(t, 7, merged.LocalSize)
	assert.Equal(t, DefaultLocalTime, merged.LocalTime)
	assert.Equal(t, DefaultLockTTL, merged.LockTTL)
	assert.Equal(t, DefaultPollInterval, merged.PollInterval)
	assert.True(t, merged.StrictLock)
	assert.False(t, merged.OversizeFallback)
}
