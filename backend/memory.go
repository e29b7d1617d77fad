package backend

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-metacache/logger"
	"github.com/saiset-co/sai-metacache/types"
)

const DefaultMaxItemSize = 1 << 20

type memoryItem struct {
	data      []byte
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryStore is an in-process backing store. Several caches may share one
// instance to stand in for a remote key-value service.
type MemoryStore struct {
	config     *types.MemoryConfig
	logger     types.Logger
	items      map[string]memoryItem
	lockOwner  string
	lockExpiry time.Time
	generation int64
	mu         sync.Mutex
	closed     int32
	stop       chan struct{}
	done       chan struct{}
}

func NewMemoryStore(config *types.MemoryConfig, log types.Logger) *MemoryStore {
	memConfig := &types.MemoryConfig{
		MaxItemSize:     DefaultMaxItemSize,
		CleanupInterval: time.Minute,
	}
	if config != nil {
		*memConfig = *config
	}

	store := &MemoryStore{
		config: memConfig,
		logger: logger.OrNop(log),
		items:  make(map[string]memoryItem),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if memConfig.CleanupInterval > 0 {
		go store.startCleanupRoutine(memConfig.CleanupInterval)
	} else {
		close(store.done)
	}

	return store
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if m.isClosed() {
		return nil, false, types.ErrBackendClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.getUnsafe(key, time.Now())
	return data, ok, nil
}

func (m *MemoryStore) GetMulti(_ context.Context, keys []string) (map[string][]byte, error) {
	if m.isClosed() {
		return nil, types.ErrBackendClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.getMultiUnsafe(keys, time.Now()), nil
}

func (m *MemoryStore) Read(_ context.Context, keys []string) (map[string][]byte, types.ControlState, error) {
	if m.isClosed() {
		return nil, types.ControlState{}, types.ErrBackendClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	return m.getMultiUnsafe(keys, now), m.controlUnsafe(now), nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if m.isClosed() {
		return types.ErrBackendClosed
	}
	if err := m.checkSize(key, value); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.setUnsafe(key, value, ttl, time.Now())
	return nil
}

// SetMulti rejects the whole batch when any value is too large.
func (m *MemoryStore) SetMulti(_ context.Context, items map[string][]byte, ttl time.Duration) error {
	if m.isClosed() {
		return types.ErrBackendClosed
	}
	for key, value := range items {
		if err := m.checkSize(key, value); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, value := range items {
		m.setUnsafe(key, value, ttl, now)
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	if m.isClosed() {
		return types.ErrBackendClosed
	}

	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteMulti(_ context.Context, keys []string) error {
	if m.isClosed() {
		return types.ErrBackendClosed
	}

	m.mu.Lock()
	for _, key := range keys {
		delete(m.items, key)
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) FlushAll(_ context.Context) error {
	if m.isClosed() {
		return types.ErrBackendClosed
	}

	m.mu.Lock()
	m.items = make(map[string]memoryItem)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Stats(_ context.Context) (types.StoreStats, error) {
	if m.isClosed() {
		return types.StoreStats{}, types.ErrBackendClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var count int64
	for _, item := range m.items {
		if !item.expired(now) {
			count++
		}
	}
	return types.StoreStats{Items: count}, nil
}

func (m *MemoryStore) Ping(_ context.Context) error {
	if m.isClosed() {
		return types.ErrBackendClosed
	}
	return nil
}

func (m *MemoryStore) Control(_ context.Context) (types.ControlState, error) {
	if m.isClosed() {
		return types.ControlState{}, types.ErrBackendClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.controlUnsafe(time.Now()), nil
}

func (m *MemoryStore) WriteLock(_ context.Context, owner string, ttl time.Duration) error {
	if m.isClosed() {
		return types.ErrBackendClosed
	}

	m.mu.Lock()
	m.writeLockUnsafe(owner, ttl, time.Now())
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) TryLock(_ context.Context, owner string, ttl time.Duration) (bool, error) {
	if m.isClosed() {
		return false, types.ErrBackendClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if current := m.controlUnsafe(now); current.BlockedFor(owner) {
		return false, nil
	}

	m.writeLockUnsafe(owner, ttl, now)
	return true, nil
}

func (m *MemoryStore) ReleaseLock(_ context.Context) error {
	if m.isClosed() {
		return types.ErrBackendClosed
	}

	m.mu.Lock()
	m.lockOwner = ""
	m.lockExpiry = time.Time{}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Reset(_ context.Context, owner string, lockTTL time.Duration) (int64, error) {
	if m.isClosed() {
		return 0, types.ErrBackendClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	flushed := len(m.items)
	m.items = make(map[string]memoryItem)
	m.writeLockUnsafe(owner, lockTTL, time.Now())
	m.generation++

	m.logger.Debug("Memory store reset",
		zap.Int("flushed_items", flushed),
		zap.Int64("generation", m.generation))

	return m.generation, nil
}

func (m *MemoryStore) Close() error {
	if !atomic.CompareAndSwapInt32(&m.closed, 0, 1) {
		return nil
	}

	close(m.stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-m.done:
			return nil
		case <-gCtx.Done():
			return gCtx.Err()
		}
	})

	if err := g.Wait(); err != nil {
		m.logger.Warn("Memory store cleanup routine stop timeout", zap.Error(err))
	}

	m.mu.Lock()
	m.items = make(map[string]memoryItem)
	m.mu.Unlock()

	return nil
}

func (m *MemoryStore) isClosed() bool {
	return atomic.LoadInt32(&m.closed) == 1
}

func (m *MemoryStore) checkSize(key string, value []byte) error {
	if m.config.MaxItemSize > 0 && len(value) > m.config.MaxItemSize {
		return types.Errorf(types.ErrValueTooLarge, "key %s: %d bytes exceeds %d", key, len(value), m.config.MaxItemSize)
	}
	return nil
}

func (m *MemoryStore) getUnsafe(key string, now time.Time) ([]byte, bool) {
	item, ok := m.items[key]
	if !ok {
		return nil, false
	}
	if item.expired(now) {
		delete(m.items, key)
		return nil, false
	}
	return item.data, true
}

func (m *MemoryStore) getMultiUnsafe(keys []string, now time.Time) map[string][]byte {
	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if data, ok := m.getUnsafe(key, now); ok {
			result[key] = data
		}
	}
	return result
}

func (m *MemoryStore) setUnsafe(key string, value []byte, ttl time.Duration, now time.Time) {
	data := make([]byte, len(value))
	copy(data, value)

	item := memoryItem{data: data}
	if ttl > 0 {
		item.expiresAt = now.Add(ttl)
	}
	m.items[key] = item
}

func (m *MemoryStore) writeLockUnsafe(owner string, ttl time.Duration, now time.Time) {
	m.lockOwner = owner
	m.lockExpiry = time.Time{}
	if ttl > 0 {
		m.lockExpiry = now.Add(ttl)
	}
}

func (m *MemoryStore) controlUnsafe(now time.Time) types.ControlState {
	if m.lockOwner != "" && !m.lockExpiry.IsZero() && !now.Before(m.lockExpiry) {
		m.lockOwner = ""
		m.lockExpiry = time.Time{}
	}
	return types.ControlState{LockOwner: m.lockOwner, Generation: m.generation}
}

func (m *MemoryStore) cleanup() {
	now := time.Now()

	m.mu.Lock()
	expired := 0
	for key, item := range m.items {
		if item.expired(now) {
			delete(m.items, key)
			expired++
		}
	}
	m.mu.Unlock()

	if expired > 0 {
		m.logger.Debug("Memory store cleanup completed", zap.Int("expired_items", expired))
	}
}

func (m *MemoryStore) startCleanupRoutine(interval time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}
