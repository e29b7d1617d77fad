package cache

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-metacache/types"
)

const (
	DefaultLocalLimit = 1000
	minTrimSlop       = 20
)

type localEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e *localEntry[V]) permanent() bool {
	return e.expiresAt.IsZero()
}

type expiryPair struct {
	at  time.Time
	key string
}

// LocalCache is the single-process variant. Non-permanent entries are tracked
// in an expiration index and trimmed soonest-to-expire first once the index
// outgrows limit plus a hysteresis band. Permanent entries are never trimmed.
type LocalCache[V any] struct {
	lifecycle
	config      *types.LocalConfig
	opts        *options
	logger      types.Logger
	metrics     cacheMetrics
	entries     map[string]*localEntry[V]
	expirations map[string]time.Time
	paused      int
	mu          sync.Mutex
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

func NewLocalCache[V any](config *types.LocalConfig, opts ...Option) *LocalCache[V] {
	localConfig := &types.LocalConfig{
		Limit:           DefaultLocalLimit,
		CleanupInterval: 0,
	}
	if config != nil {
		*localConfig = *config
	}

	o := buildOptions(opts)

	c := &LocalCache[V]{
		config:      localConfig,
		opts:        o,
		logger:      o.logger,
		metrics:     newCacheMetrics(o.metrics, "local"),
		entries:     make(map[string]*localEntry[V]),
		expirations: make(map[string]time.Time),
	}
	c.lifecycle.init()

	return c
}

func (l *LocalCache[V]) Get(_ context.Context, key string) (V, bool, error) {
	value, ok := l.GetLocal(key)
	return value, ok, nil
}

func (l *LocalCache[V]) Value(ctx context.Context, key string) (V, error) {
	value, ok, err := l.Get(ctx, key)
	if err != nil {
		return value, err
	}
	if !ok {
		return value, types.Errorf(types.ErrCacheNotFound, "key: %s", key)
	}
	return value, nil
}

func (l *LocalCache[V]) GetMulti(_ context.Context, keys []string) (map[string]V, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.opts.clock()
	result := make(map[string]V, len(keys))
	for _, key := range keys {
		if value, ok := l.getUnsafe(key, now); ok {
			result[key] = value
		}
	}
	return result, nil
}

func (l *LocalCache[V]) GetLocal(key string) (V, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.getUnsafe(key, l.opts.clock())
}

func (l *LocalCache[V]) GetNow(ctx context.Context, key string) (V, bool, error) {
	return l.Get(ctx, key)
}

func (l *LocalCache[V]) Set(_ context.Context, key string, value V, opts ...types.SetOption) error {
	return l.SetLocal(key, value, opts...)
}

func (l *LocalCache[V]) SetMulti(_ context.Context, items map[string]V, opts ...types.SetOption) error {
	for key := range items {
		if key == "" {
			return types.ErrCacheKeyEmpty
		}
	}

	o := types.ApplySetOptions(opts)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.opts.clock()
	for key, value := range items {
		l.setUnsafe(key, value, o.Lifetime, now)
	}
	if !o.Pause {
		l.trimUnsafe()
	}
	return nil
}

func (l *LocalCache[V]) SetLocal(key string, value V, opts ...types.SetOption) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	o := types.ApplySetOptions(opts)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.setUnsafe(key, value, o.Lifetime, l.opts.clock())
	if !o.Pause {
		l.trimUnsafe()
	}
	return nil
}

func (l *LocalCache[V]) Delete(_ context.Context, key string) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	l.mu.Lock()
	l.removeUnsafe(key)
	l.mu.Unlock()
	return nil
}

func (l *LocalCache[V]) DeleteMulti(_ context.Context, keys []string) error {
	l.mu.Lock()
	for _, key := range keys {
		l.removeUnsafe(key)
	}
	l.mu.Unlock()
	return nil
}

func (l *LocalCache[V]) Clear(_ context.Context, _ bool) error {
	l.mu.Lock()
	cleared := len(l.entries)
	l.entries = make(map[string]*localEntry[V])
	l.expirations = make(map[string]time.Time)
	l.mu.Unlock()

	l.logger.Info("Local cache cleared", zap.Int("cleared_entries", cleared))
	return nil
}

func (l *LocalCache[V]) Flush(context.Context, bool) ([]string, error) {
	return nil, nil
}

func (l *LocalCache[V]) Block(context.Context) error {
	return nil
}

func (l *LocalCache[V]) Unblock(context.Context, bool) (bool, error) {
	return false, nil
}

func (l *LocalCache[V]) IsBlocked(context.Context) (bool, error) {
	return false, nil
}

func (l *LocalCache[V]) Pause() {
	l.mu.Lock()
	l.paused++
	l.mu.Unlock()
}

// Resume undoes one Pause. The trim skipped while paused runs once when the
// counter returns to zero.
func (l *LocalCache[V]) Resume(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused == 0 {
		return nil
	}
	l.paused--
	if l.paused == 0 {
		l.trimUnsafe()
	}
	return nil
}

func (l *LocalCache[V]) IsPaused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused > 0
}

func (l *LocalCache[V]) ReplicateClear(int64) {}

func (l *LocalCache[V]) ReplicateClearIfNecessary(context.Context) (bool, error) {
	return false, nil
}

func (l *LocalCache[V]) WasCleared() bool {
	return false
}

func (l *LocalCache[V]) Contains(ctx context.Context, key string) (bool, error) {
	_, ok, err := l.Get(ctx, key)
	return ok, err
}

func (l *LocalCache[V]) Len(context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.opts.clock()
	count := 0
	for _, entry := range l.entries {
		if entry.permanent() || now.Before(entry.expiresAt) {
			count++
		}
	}
	return count, nil
}

func (l *LocalCache[V]) Start() error {
	if !l.transitionState(StateStopped, StateStarting) {
		l.logger.Warn("Local cache is already running")
		return types.ErrServerAlreadyRunning
	}

	if l.config.CleanupInterval > 0 {
		l.stopCleanup = make(chan struct{})
		l.cleanupDone = make(chan struct{})
		go l.startCleanupRoutine(l.config.CleanupInterval)
	}

	l.setState(StateRunning)
	l.logger.Info("Local cache started", zap.Int("limit", l.config.Limit))
	return nil
}

func (l *LocalCache[V]) Stop() error {
	if !l.transitionState(StateRunning, StateStopping) {
		l.logger.Warn("Local cache is not running")
		return types.ErrServerNotRunning
	}
	defer l.setState(StateStopped)

	if l.stopCleanup != nil {
		close(l.stopCleanup)

		select {
		case <-l.cleanupDone:
			l.logger.Debug("Cleanup routine stopped")
		case <-time.After(5 * time.Second):
			l.logger.Warn("Cleanup routine stop timeout")
		}
	}

	l.logger.Info("Local cache stopped")
	return nil
}

func (l *LocalCache[V]) getUnsafe(key string, now time.Time) (V, bool) {
	entry, ok := l.entries[key]
	if !ok {
		l.metrics.miss()
		var zero V
		return zero, false
	}

	if !entry.permanent() && !now.Before(entry.expiresAt) {
		l.removeUnsafe(key)
		l.metrics.evicted("expired", 1)
		l.metrics.miss()
		var zero V
		return zero, false
	}

	l.metrics.hit(layerLocal)
	return entry.value, true
}

func (l *LocalCache[V]) setUnsafe(key string, value V, explicit types.Lifetime, now time.Time) {
	ttl := l.opts.resolveLifetime(value, explicit)

	entry := &localEntry[V]{value: value}
	delete(l.expirations, key)
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
		l.expirations[key] = entry.expiresAt
	}
	l.entries[key] = entry
}

func (l *LocalCache[V]) removeUnsafe(key string) {
	delete(l.entries, key)
	delete(l.expirations, key)
}

func (l *LocalCache[V]) slop() int {
	return max(minTrimSlop, l.config.Limit/10)
}

// trimUnsafe keeps the limit entries with the latest expirations once the
// non-permanent count exceeds limit+slop.
func (l *LocalCache[V]) trimUnsafe() int {
	if l.config.Limit <= 0 || l.paused > 0 {
		return 0
	}
	if len(l.expirations) <= l.config.Limit+l.slop() {
		return 0
	}

	pairs := make([]expiryPair, 0, len(l.expirations))
	for key, at := range l.expirations {
		pairs = append(pairs, expiryPair{at: at, key: key})
	}
	slices.SortFunc(pairs, func(a, b expiryPair) int {
		if c := a.at.Compare(b.at); c != 0 {
			return c
		}
		return strings.Compare(a.key, b.key)
	})

	drop := len(pairs) - l.config.Limit
	for _, pair := range pairs[:drop] {
		l.removeUnsafe(pair.key)
	}

	l.metrics.trimmed()
	l.metrics.evicted("trim", drop)
	l.logger.Debug("Local cache trimmed",
		zap.Int("evicted", drop),
		zap.Int("remaining", len(l.expirations)))

	return drop
}

func (l *LocalCache[V]) cleanup() {
	l.mu.Lock()
	now := l.opts.clock()
	expired := 0
	for key, at := range l.expirations {
		if !now.Before(at) {
			l.removeUnsafe(key)
			expired++
		}
	}
	l.mu.Unlock()

	if expired > 0 {
		l.metrics.evicted("expired", expired)
		l.logger.Debug("Cleanup completed", zap.Int("expired_entries", expired))
	}
}

func (l *LocalCache[V]) startCleanupRoutine(interval time.Duration) {
	defer close(l.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCleanup:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}
