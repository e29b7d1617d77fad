package cache

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-metacache/types"
	"github.com/saiset-co/sai-metacache/utils"
)

const (
	DefaultLocalSize    = 100
	DefaultLocalTime    = time.Minute
	DefaultLockTTL      = time.Minute
	DefaultPollInterval = time.Second
	DefaultStopTimeout  = 10 * time.Second
)

func DefaultDistributedConfig() *types.DistributedConfig {
	return &types.DistributedConfig{
		LocalSize:        DefaultLocalSize,
		LocalTime:        DefaultLocalTime,
		LockTTL:          DefaultLockTTL,
		PollInterval:     DefaultPollInterval,
		OversizeFallback: true,
	}
}

// DistributedCache shares state with other processes through a Backend.
//
// Writes land in a local write-behind buffer indexed by key and by resolved
// lifetime, and reach the backend in one batch per lifetime. Permanent values
// are mirrored in a process-local shadow that repopulates the backend when it
// drops them. Values the backend refuses for size stay in a process-local
// oversize shadow and never travel to the backend again. A generation counter
// kept by the backend tells every process when another one cleared the cache.
type DistributedCache[V any] struct {
	lifecycle
	config  *types.DistributedConfig
	backend types.Backend
	codec   utils.Codec[V]
	opts    *options
	logger  types.Logger
	metrics cacheMetrics
	owner   string

	stopTimeout time.Duration

	mu          sync.Mutex
	values      map[string]V
	lifetimes   map[string]time.Duration
	byLifetime  map[time.Duration]map[string]struct{}
	bufferSince time.Time
	permanent   map[string]V
	oversize    map[string]V
	generation  int64
	cleared     bool
	paused      int
}

func NewDistributedCache[V any](ctx context.Context, backend types.Backend, config *types.DistributedConfig, opts ...Option) (*DistributedCache[V], error) {
	if backend == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "distributed cache requires a backend")
	}

	distConfig := DefaultDistributedConfig()
	if config != nil {
		distConfig = mergeDistributedConfig(distConfig, config)
	}

	o := buildOptions(opts)
	owner := o.owner
	if owner == "" {
		owner = fmt.Sprintf("%d-%s", os.Getpid(), uuid.NewString())
	}

	state, err := backend.Control(ctx)
	if err != nil {
		return nil, types.WrapError(err, "failed to read control state")
	}

	c := &DistributedCache[V]{
		config:      distConfig,
		backend:     backend,
		codec:       utils.JSONCodec[V]{},
		opts:        o,
		logger:      o.logger,
		metrics:     newCacheMetrics(o.metrics, "distributed"),
		owner:       owner,
		values:      make(map[string]V),
		lifetimes:   make(map[string]time.Duration),
		byLifetime:  make(map[time.Duration]map[string]struct{}),
		permanent:   make(map[string]V),
		oversize:    make(map[string]V),
		generation:  state.Generation,
		stopTimeout: DefaultStopTimeout,
	}
	c.lifecycle.init()

	return c, nil
}

// Owner is the identity this instance writes into the lock.
func (d *DistributedCache[V]) Owner() string {
	return d.owner
}

func (d *DistributedCache[V]) Set(ctx context.Context, key string, value V, opts ...types.SetOption) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	o := types.ApplySetOptions(opts)

	d.mu.Lock()
	d.bufferUnsafe(key, value, d.opts.resolveLifetime(value, o.Lifetime))
	flush := !o.Pause && d.paused == 0 && d.shouldFlushUnsafe()
	d.mu.Unlock()

	if flush {
		_, err := d.Flush(ctx, false)
		return err
	}
	return nil
}

func (d *DistributedCache[V]) SetMulti(ctx context.Context, items map[string]V, opts ...types.SetOption) error {
	for key := range items {
		if key == "" {
			return types.ErrCacheKeyEmpty
		}
	}

	o := types.ApplySetOptions(opts)

	d.mu.Lock()
	for key, value := range items {
		d.bufferUnsafe(key, value, d.opts.resolveLifetime(value, o.Lifetime))
	}
	flush := !o.Pause && d.paused == 0 && d.shouldFlushUnsafe()
	d.mu.Unlock()

	if flush {
		_, err := d.Flush(ctx, false)
		return err
	}
	return nil
}

// SetLocal buffers the value without considering a flush.
func (d *DistributedCache[V]) SetLocal(key string, value V, opts ...types.SetOption) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	o := types.ApplySetOptions(opts)

	d.mu.Lock()
	d.bufferUnsafe(key, value, d.opts.resolveLifetime(value, o.Lifetime))
	d.mu.Unlock()
	return nil
}

// Flush writes the buffer to the backend and returns the keys that could not
// be stored. With wait unset a flush is skipped while another process holds
// the lock. The buffer is emptied whether or not every key was stored.
func (d *DistributedCache[V]) Flush(ctx context.Context, wait bool) ([]string, error) {
	if d.bufferLen() == 0 {
		return nil, nil
	}

	if wait {
		if err := d.waitUnblocked(ctx, "flush"); err != nil {
			return nil, err
		}
	} else {
		blocked, err := d.IsBlocked(ctx)
		if err != nil {
			d.logger.Warn("Failed to read lock state before flush", zap.Error(err))
		} else if blocked {
			d.logger.Debug("Flush deferred, cache is blocked by another process")
			return nil, nil
		}
	}

	groups := d.drainBuffer()
	if len(groups) == 0 {
		return nil, nil
	}

	return d.writeGroups(ctx, groups), nil
}

func (d *DistributedCache[V]) Pause() {
	d.mu.Lock()
	d.paused++
	d.mu.Unlock()
}

// Resume undoes one Pause. A flush that became due while paused runs once
// when the counter returns to zero.
func (d *DistributedCache[V]) Resume(ctx context.Context) error {
	d.mu.Lock()
	if d.paused == 0 {
		d.mu.Unlock()
		return nil
	}
	d.paused--
	flush := d.paused == 0 && d.shouldFlushUnsafe()
	d.mu.Unlock()

	if flush {
		_, err := d.Flush(ctx, false)
		return err
	}
	return nil
}

func (d *DistributedCache[V]) IsPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused > 0
}

// Len is approximate: buffered keys may already exist in the backend.
func (d *DistributedCache[V]) Len(ctx context.Context) (int, error) {
	stats, err := d.backend.Stats(ctx)
	if err != nil {
		return 0, types.WrapError(err, "failed to read backend stats")
	}

	d.mu.Lock()
	local := len(d.values) + len(d.oversize)
	d.mu.Unlock()

	return int(stats.Items) + local, nil
}

func (d *DistributedCache[V]) Start() error {
	if !d.transitionState(StateStopped, StateRunning) {
		d.logger.Warn("Distributed cache is already running")
		return types.ErrServerAlreadyRunning
	}

	d.logger.Info("Distributed cache started",
		zap.String("owner", d.owner),
		zap.Int64("generation", d.currentGeneration()),
		zap.Int("local_size", d.config.LocalSize),
		zap.Duration("local_time", d.config.LocalTime))
	return nil
}

// Stop flushes what is left in the buffer, waiting up to DefaultStopTimeout
// for a foreign lock to clear. The backend is shared and stays open.
func (d *DistributedCache[V]) Stop() error {
	if !d.transitionState(StateRunning, StateStopping) {
		d.logger.Warn("Distributed cache is not running")
		return types.ErrServerNotRunning
	}
	defer d.setState(StateStopped)

	ctx, cancel := context.WithTimeout(context.Background(), d.stopTimeout)
	defer cancel()

	failed, err := d.Flush(ctx, false)
	if err == nil && d.bufferLen() > 0 {
		d.logger.Warn("Cache blocked by another process at stop, waiting to flush",
			zap.Int("keys", d.bufferLen()),
			zap.Duration("timeout", d.stopTimeout))
		failed, err = d.Flush(ctx, true)
	}
	if err != nil {
		d.logger.Error("Final flush failed, buffered writes lost",
			zap.Strings("keys", d.bufferedKeys()),
			zap.Error(err))
		return types.WrapError(err, "final flush failed")
	}
	if len(failed) > 0 {
		d.logger.Warn("Final flush dropped keys", zap.Strings("keys", failed))
	}

	d.logger.Info("Distributed cache stopped")
	return nil
}

func (d *DistributedCache[V]) bufferLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.values)
}

func (d *DistributedCache[V]) bufferedKeys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make([]string, 0, len(d.values))
	for key := range d.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (d *DistributedCache[V]) bufferUnsafe(key string, value V, ttl time.Duration) {
	if _, ok := d.oversize[key]; ok {
		d.oversize[key] = value
		return
	}

	d.unbufferUnsafe(key)

	if len(d.values) == 0 {
		d.bufferSince = d.opts.clock()
	}

	d.values[key] = value
	d.lifetimes[key] = ttl
	group, ok := d.byLifetime[ttl]
	if !ok {
		group = make(map[string]struct{})
		d.byLifetime[ttl] = group
	}
	group[key] = struct{}{}

	d.metrics.bufferSize(len(d.values))
}

func (d *DistributedCache[V]) unbufferUnsafe(key string) {
	ttl, ok := d.lifetimes[key]
	if !ok {
		return
	}

	delete(d.values, key)
	delete(d.lifetimes, key)
	if group := d.byLifetime[ttl]; group != nil {
		delete(group, key)
		if len(group) == 0 {
			delete(d.byLifetime, ttl)
		}
	}
}

func (d *DistributedCache[V]) resetBufferUnsafe() {
	d.values = make(map[string]V)
	d.lifetimes = make(map[string]time.Duration)
	d.byLifetime = make(map[time.Duration]map[string]struct{})
	d.bufferSince = time.Time{}
	d.metrics.bufferSize(0)
}

func (d *DistributedCache[V]) shouldFlushUnsafe() bool {
	if len(d.values) == 0 {
		return false
	}
	if len(d.values) >= d.config.LocalSize {
		return true
	}
	return d.opts.clock().Sub(d.bufferSince) > d.config.LocalTime
}

// drainBuffer empties the buffer into per-lifetime groups, refreshing the
// permanent shadow on the way.
func (d *DistributedCache[V]) drainBuffer() map[time.Duration]map[string]V {
	d.mu.Lock()
	defer d.mu.Unlock()

	groups := make(map[time.Duration]map[string]V, len(d.byLifetime))
	for ttl, keys := range d.byLifetime {
		group := make(map[string]V, len(keys))
		for key := range keys {
			value := d.values[key]
			group[key] = value
			if ttl == 0 {
				d.permanent[key] = value
			} else {
				delete(d.permanent, key)
			}
		}
		groups[ttl] = group
	}

	d.resetBufferUnsafe()
	return groups
}

func (d *DistributedCache[V]) writeGroups(ctx context.Context, groups map[time.Duration]map[string]V) []string {
	lifetimes := make([]time.Duration, 0, len(groups))
	for ttl := range groups {
		lifetimes = append(lifetimes, ttl)
	}
	sort.Slice(lifetimes, func(i, j int) bool { return lifetimes[i] < lifetimes[j] })

	var failed []string
	written := 0

	for _, ttl := range lifetimes {
		group := groups[ttl]
		encoded := make(map[string][]byte, len(group))
		for key, value := range group {
			data, err := d.codec.Encode(value)
			if err != nil {
				d.logger.Error("Failed to encode cache value", zap.String("key", key), zap.Error(err))
				d.metrics.flushFailed("encode", 1)
				failed = append(failed, key)
				continue
			}
			encoded[key] = data
		}
		if len(encoded) == 0 {
			continue
		}

		err := d.backend.SetMulti(ctx, encoded, ttl)
		switch {
		case err == nil:
			written += len(encoded)
		case types.IsError(err, types.ErrValueTooLarge):
			ok, rejected := d.writeItems(ctx, group, encoded, ttl)
			written += ok
			failed = append(failed, rejected...)
		default:
			d.logger.Error("Failed to flush cache batch",
				zap.Duration("lifetime", ttl),
				zap.Int("keys", len(encoded)),
				zap.Error(err))
			d.metrics.flushFailed("error", len(encoded))
			for key := range encoded {
				failed = append(failed, key)
			}
		}
	}

	d.metrics.flushed(written)
	d.logger.Debug("Write-behind buffer flushed",
		zap.Int("written", written),
		zap.Int("failed", len(failed)),
		zap.Int("batches", len(lifetimes)))

	sort.Strings(failed)
	return failed
}

// writeItems retries a rejected batch one key at a time.
func (d *DistributedCache[V]) writeItems(ctx context.Context, group map[string]V, encoded map[string][]byte, ttl time.Duration) (int, []string) {
	var failed []string
	written := 0

	for key, data := range encoded {
		err := d.backend.Set(ctx, key, data, ttl)
		switch {
		case err == nil:
			written++
		case types.IsError(err, types.ErrValueTooLarge):
			d.demote(key, group[key], len(data))
			d.metrics.flushFailed("oversize", 1)
			failed = append(failed, key)
		default:
			d.logger.Error("Failed to flush cache value", zap.String("key", key), zap.Error(err))
			d.metrics.flushFailed("error", 1)
			failed = append(failed, key)
		}
	}

	return written, failed
}

func (d *DistributedCache[V]) demote(key string, value V, size int) {
	if !d.config.OversizeFallback {
		d.mu.Lock()
		delete(d.permanent, key)
		d.mu.Unlock()

		d.logger.Warn("Value too large for backend, dropped",
			zap.String("key", key),
			zap.Int("bytes", size))
		return
	}

	d.mu.Lock()
	d.oversize[key] = value
	delete(d.permanent, key)
	d.mu.Unlock()

	d.metrics.demoted()
	d.logger.Warn("Value too large for backend, kept in process memory only",
		zap.String("key", key),
		zap.Int("bytes", size))
}

func mergeDistributedConfig(defaults, config *types.DistributedConfig) *types.DistributedConfig {
	merged := *config
	if merged.LocalSize <= 0 {
		merged.LocalSize = defaults.LocalSize
	}
	if merged.LocalTime <= 0 {
		merged.LocalTime = defaults.LocalTime
	}
	if merged.LockTTL <= 0 {
		merged.LockTTL = defaults.LockTTL
	}
	if merged.PollInterval <= 0 {
		merged.PollInterval = defaults.PollInterval
	}
	return &merged
}
