package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-metacache/backend"
	"github.com/saiset-co/sai-metacache/types"
)

var (
	_ types.Cache[string] = (*LocalCache[string])(nil)
	_ types.Cache[string] = (*DistributedCache[string])(nil)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingBackend records the writes that reach the wrapped backend.
type countingBackend struct {
	types.Backend
	mu           sync.Mutex
	setMultiTTLs []time.Duration
	sets         int
	controls     int
	reads        int
	setMultiErr  error
}

func (c *countingBackend) Control(ctx context.Context) (types.ControlState, error) {
	c.mu.Lock()
	c.controls++
	c.mu.Unlock()
	return c.Backend.Control(ctx)
}

func (c *countingBackend) Read(ctx context.Context, keys []string) (map[string][]byte, types.ControlState, error) {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
	return c.Backend.Read(ctx, keys)
}

func (c *countingBackend) SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	c.mu.Lock()
	c.setMultiTTLs = append(c.setMultiTTLs, ttl)
	err := c.setMultiErr
	c.mu.Unlock()

	if err != nil {
		return err
	}
	return c.Backend.SetMulti(ctx, items, ttl)
}

func (c *countingBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	c.sets++
	c.mu.Unlock()
	return c.Backend.Set(ctx, key, value, ttl)
}

func (c *countingBackend) batches() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.setMultiTTLs...)
}

func (c *countingBackend) singleSets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

// roundTrips returns how many control and combined reads reached the backend.
func (c *countingBackend) roundTrips() (controls, reads int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controls, c.reads
}

// clearingBackend publishes a clear from another process right after the
// first Read, so the caller acts on a result from the previous generation.
type clearingBackend struct {
	*backend.MemoryStore
	once sync.Once
}

func (c *clearingBackend) Read(ctx context.Context, keys []string) (map[string][]byte, types.ControlState, error) {
	values, state, err := c.MemoryStore.Read(ctx, keys)
	c.once.Do(func() {
		_, _ = c.MemoryStore.Reset(ctx, "other", time.Minute)
		_ = c.MemoryStore.ReleaseLock(ctx)
	})
	return values, state, err
}

func newMemoryBackend(t *testing.T, maxItemSize int) *backend.MemoryStore {
	store := backend.NewMemoryStore(&types.MemoryConfig{MaxItemSize: maxItemSize}, nil)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testDistributedConfig() *types.DistributedConfig {
	return &types.DistributedConfig{
		LocalSize:        3,
		LocalTime:        time.Hour,
		LockTTL:          time.Minute,
		PollInterval:     10 * time.Millisecond,
		OversizeFallback: true,
	}
}

func newDistributed(t *testing.T, b types.Backend, config *types.DistributedConfig, opts ...Option) *DistributedCache[string] {
	c, err := NewDistributedCache[string](context.Background(), b, config, opts...)
	require.NoError(t, err)
	return c
}
