package backend

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-metacache/types"
)

// runBackendSuite checks the protocol every backing store must honour.
func runBackendSuite(t *testing.T, newStore func(t *testing.T, maxItemSize int) types.Backend) {
	ctx := context.Background()

	t.Run("get set delete", func(t *testing.T) {
		store := newStore(t, 1024)

		_, ok, err := store.Get(ctx, "volumes/COISS_2001")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, store.Set(ctx, "volumes/COISS_2001", []byte(`"a"`), 0))
		data, ok, err := store.Get(ctx, "volumes/COISS_2001")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, `"a"`, string(data))

		require.NoError(t, store.Delete(ctx, "volumes/COISS_2001"))
		_, ok, err = store.Get(ctx, "volumes/COISS_2001")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("multi operations", func(t *testing.T) {
		store := newStore(t, 1024)

		require.NoError(t, store.SetMulti(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, time.Minute))
		values, err := store.GetMulti(ctx, []string{"a", "b", "c"})
		require.NoError(t, err)
		assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, values)

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2, stats.Items)

		require.NoError(t, store.DeleteMulti(ctx, []string{"a", "b"}))
		values, err = store.GetMulti(ctx, []string{"a", "b"})
		require.NoError(t, err)
		assert.Empty(t, values)
	})

	t.Run("oversize", func(t *testing.T) {
		store := newStore(t, 8)
		big := []byte(strings.Repeat("x", 16))

		err := store.Set(ctx, "big", big, 0)
		assert.ErrorIs(t, err, types.ErrValueTooLarge)

		err = store.SetMulti(ctx, map[string][]byte{"small": []byte("1"), "big": big}, 0)
		assert.ErrorIs(t, err, types.ErrValueTooLarge)

		_, ok, err := store.Get(ctx, "small")
		require.NoError(t, err)
		assert.False(t, ok, "rejected batch must not be partially written")
	})

	t.Run("ttl expiry", func(t *testing.T) {
		store := newStore(t, 1024)

		require.NoError(t, store.Set(ctx, "short", []byte("1"), 50*time.Millisecond))
		time.Sleep(120 * time.Millisecond)

		_, ok, err := store.Get(ctx, "short")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("control plane", func(t *testing.T) {
		store := newStore(t, 1024)

		state, err := store.Control(ctx)
		require.NoError(t, err)
		assert.False(t, state.Locked())
		start := state.Generation

		require.NoError(t, store.WriteLock(ctx, "owner-a", time.Minute))
		acquired, err := store.TryLock(ctx, "owner-b", time.Minute)
		require.NoError(t, err)
		assert.False(t, acquired)

		acquired, err = store.TryLock(ctx, "owner-a", time.Minute)
		require.NoError(t, err)
		assert.True(t, acquired)

		require.NoError(t, store.ReleaseLock(ctx))
		acquired, err = store.TryLock(ctx, "owner-b", time.Minute)
		require.NoError(t, err)
		assert.True(t, acquired)

		require.NoError(t, store.Set(ctx, "lock", []byte("caller data"), 0))
		state, err = store.Control(ctx)
		require.NoError(t, err)
		assert.Equal(t, "owner-b", state.LockOwner, "caller keys must not alias control state")

		require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))
		generation, err := store.Reset(ctx, "owner-c", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, start+1, generation)

		values, state, err := store.Read(ctx, []string{"k", "lock"})
		require.NoError(t, err)
		assert.Empty(t, values)
		assert.Equal(t, "owner-c", state.LockOwner)
		assert.Equal(t, generation, state.Generation)
	})

	t.Run("lock ttl", func(t *testing.T) {
		store := newStore(t, 1024)

		require.NoError(t, store.WriteLock(ctx, "owner-a", 50*time.Millisecond))
		time.Sleep(120 * time.Millisecond)

		state, err := store.Control(ctx)
		require.NoError(t, err)
		assert.False(t, state.Locked())
	})

	t.Run("flush all", func(t *testing.T) {
		store := newStore(t, 1024)

		require.NoError(t, store.SetMulti(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, 0))
		require.NoError(t, store.FlushAll(ctx))

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.Items)
	})
}

func TestMemoryStore(t *testing.T) {
	runBackendSuite(t, func(t *testing.T, maxItemSize int) types.Backend {
		store := NewMemoryStore(&types.MemoryConfig{MaxItemSize: maxItemSize, CleanupInterval: 10 * time.Millisecond}, nil)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestMemoryStore_ClosedRejectsCalls(t *testing.T) {
	store := NewMemoryStore(nil, nil)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, _, err := store.Get(context.Background(), "k")
	assert.ErrorIs(t, err, types.ErrBackendClosed)
	assert.ErrorIs(t, store.Set(context.Background(), "k", []byte("v"), 0), types.ErrBackendClosed)
}

func TestNewBackend_Unknown(t *testing.T) {
	_, err := NewBackend(context.Background(), &types.BackendConfig{Type: "memcached"}, nil)
	assert.ErrorIs(t, err, types.ErrBackendTypeUnknown)
}

func TestNewBackend_Custom(t *testing.T) {
	RegisterBackend("test-memory", func(config *types.BackendConfig, logger types.Logger) (types.Backend, error) {
		return NewMemoryStore(nil, logger), nil
	})

	b, err := NewBackend(context.Background(), &types.BackendConfig{Type: "test-memory"}, nil)
	require.NoError(t, err)
	assert.NoError(t, b.Close())
}
