package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-metacache/types"
)

// Get consults the oversize shadow, then the write-behind buffer, then the
// backend once no other process holds the lock, and finally the permanent
// shadow, which also writes the value back to the backend.
func (d *DistributedCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	return d.get(ctx, key, true)
}

// GetNow is Get without waiting for the lock.
func (d *DistributedCache[V]) GetNow(ctx context.Context, key string) (V, bool, error) {
	return d.get(ctx, key, false)
}

func (d *DistributedCache[V]) Value(ctx context.Context, key string) (V, error) {
	value, ok, err := d.Get(ctx, key)
	if err != nil {
		return value, err
	}
	if !ok {
		return value, types.Errorf(types.ErrCacheNotFound, "key: %s", key)
	}
	return value, nil
}

func (d *DistributedCache[V]) GetMulti(ctx context.Context, keys []string) (map[string]V, error) {
	result := make(map[string]V, len(keys))
	remaining := make([]string, 0, len(keys))

	d.mu.Lock()
	for _, key := range keys {
		if value, ok := d.lookupPendingUnsafe(key); ok {
			result[key] = value
			continue
		}
		remaining = append(remaining, key)
	}
	d.mu.Unlock()

	if len(remaining) == 0 {
		return result, nil
	}

	values, err := d.readThrough(ctx, remaining, true, "get_multi")
	if err != nil {
		return nil, err
	}

	for key, value := range values {
		result[key] = value
	}
	return result, nil
}

// GetLocal never talks to the backend.
func (d *DistributedCache[V]) GetLocal(key string) (V, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if value, ok := d.lookupPendingUnsafe(key); ok {
		return value, true
	}
	if value, ok := d.permanent[key]; ok {
		d.metrics.hit(layerShadow)
		return value, true
	}

	var zero V
	return zero, false
}

func (d *DistributedCache[V]) Contains(ctx context.Context, key string) (bool, error) {
	_, ok, err := d.Get(ctx, key)
	return ok, err
}

func (d *DistributedCache[V]) Delete(ctx context.Context, key string) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}
	return d.DeleteMulti(ctx, []string{key})
}

func (d *DistributedCache[V]) DeleteMulti(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	if err := d.waitUnblocked(ctx, "delete"); err != nil {
		return err
	}

	remote := make([]string, 0, len(keys))

	d.mu.Lock()
	for _, key := range keys {
		d.unbufferUnsafe(key)
		delete(d.permanent, key)
		if _, ok := d.oversize[key]; ok {
			delete(d.oversize, key)
			continue
		}
		remote = append(remote, key)
	}
	d.metrics.bufferSize(len(d.values))
	d.mu.Unlock()

	if len(remote) == 0 {
		return nil
	}

	var err error
	if len(remote) == 1 {
		err = d.backend.Delete(ctx, remote[0])
	} else {
		err = d.backend.DeleteMulti(ctx, remote)
	}
	if err != nil {
		d.logger.Error("Failed to delete cache keys", zap.Strings("keys", remote), zap.Error(err))
		return types.WrapError(err, "failed to delete cache keys")
	}
	return nil
}

func (d *DistributedCache[V]) get(ctx context.Context, key string, wait bool) (V, bool, error) {
	var zero V

	d.mu.Lock()
	value, ok := d.lookupPendingUnsafe(key)
	d.mu.Unlock()
	if ok {
		return value, true, nil
	}

	values, err := d.readThrough(ctx, []string{key}, wait, "get")
	if err != nil {
		return zero, false, err
	}

	value, ok = values[key]
	return value, ok, nil
}

// lookupPendingUnsafe checks the layers that take precedence over the
// backend: the oversize shadow and the write-behind buffer.
func (d *DistributedCache[V]) lookupPendingUnsafe(key string) (V, bool) {
	if value, ok := d.oversize[key]; ok {
		d.metrics.hit(layerOversize)
		return value, true
	}
	if value, ok := d.values[key]; ok {
		d.metrics.hit(layerBuffer)
		return value, true
	}

	var zero V
	return zero, false
}

// readThrough fetches keys and the control state in one round trip. With
// wait set it repeats the read until no other process holds the lock. A newer
// generation is adopted on every read, and permanent values the backend lost
// are restored from the shadow.
func (d *DistributedCache[V]) readThrough(ctx context.Context, keys []string, wait bool, op string) (map[string]V, error) {
	var (
		raw     map[string][]byte
		state   types.ControlState
		readErr error
	)

	probe := func() (bool, error) {
		raw, state, readErr = d.backend.Read(ctx, keys)
		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			d.logger.Error("Failed to read from backend", zap.Strings("keys", keys), zap.Error(readErr))
			return false, nil
		}
		d.observeGeneration(state.Generation)
		return wait && state.BlockedFor(d.owner), nil
	}
	if err := d.pollUnblocked(ctx, op, probe); err != nil {
		return nil, err
	}

	result := make(map[string]V, len(keys))
	for key, data := range raw {
		value, err := d.codec.Decode(data)
		if err != nil {
			d.logger.Error("Failed to decode cache value", zap.String("key", key), zap.Error(err))
			continue
		}
		result[key] = value
		d.metrics.hit(layerStore)
	}

	heal := make(map[string]V)
	d.mu.Lock()
	for _, key := range keys {
		if _, ok := result[key]; ok {
			continue
		}
		if value, ok := d.permanent[key]; ok {
			result[key] = value
			heal[key] = value
			d.metrics.hit(layerShadow)
			continue
		}
		d.metrics.miss()
	}
	d.mu.Unlock()

	if readErr == nil && len(heal) > 0 && !d.restorePermanent(ctx, heal, state.Generation) {
		for key := range heal {
			delete(result, key)
		}
	}

	return result, nil
}

// restorePermanent writes shadow values back unless a clear was published
// after the read that found them missing. It reports false when the values
// belong to a superseded generation and must not be served.
func (d *DistributedCache[V]) restorePermanent(ctx context.Context, items map[string]V, generation int64) bool {
	current, err := d.backend.Control(ctx)
	if err != nil {
		d.logger.Warn("Failed to recheck generation before restore", zap.Error(err))
		return true
	}
	if current.Generation != generation {
		d.observeGeneration(current.Generation)
		d.logger.Info("Skipped restoring permanent values, cache was cleared meanwhile",
			zap.Int("keys", len(items)),
			zap.Int64("generation", current.Generation))
		return false
	}

	encoded := make(map[string][]byte, len(items))
	for key, value := range items {
		data, err := d.codec.Encode(value)
		if err != nil {
			d.logger.Error("Failed to encode permanent value", zap.String("key", key), zap.Error(err))
			continue
		}
		encoded[key] = data
	}
	if len(encoded) == 0 {
		return true
	}

	if err := d.backend.SetMulti(ctx, encoded, 0); err != nil {
		d.logger.Warn("Failed to restore permanent values", zap.Int("keys", len(encoded)), zap.Error(err))
		return true
	}

	d.metrics.healed(len(encoded))
	d.logger.Info("Restored permanent values evicted by backend", zap.Int("keys", len(encoded)))
	return true
}
