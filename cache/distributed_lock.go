package cache

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-metacache/types"
)

// Block marks the cache as locked by this instance. The lock expires on its
// own after LockTTL. Without StrictLock this is a plain write, so two
// processes calling Block together may both believe they hold it.
func (d *DistributedCache[V]) Block(ctx context.Context) error {
	if !d.config.StrictLock {
		if err := d.backend.WriteLock(ctx, d.owner, d.config.LockTTL); err != nil {
			return types.WrapError(err, "failed to write lock")
		}
		d.logger.Debug("Cache blocked", zap.String("owner", d.owner))
		return nil
	}

	waiting := false
	for {
		acquired, err := d.backend.TryLock(ctx, d.owner, d.config.LockTTL)
		if err != nil {
			return types.WrapError(err, "failed to acquire lock")
		}
		if acquired {
			if waiting {
				d.logger.Info("Lock acquired", zap.String("owner", d.owner))
			}
			return nil
		}

		if !waiting {
			waiting = true
			d.metrics.lockWait()
			d.logger.Info("Waiting to acquire lock", zap.String("owner", d.owner))
		}

		if err := d.sleepPoll(ctx); err != nil {
			return err
		}
	}
}

// Unblock releases the lock when this instance holds it and reports whether
// it did. A lock held by another process, or no lock at all, is left alone.
func (d *DistributedCache[V]) Unblock(ctx context.Context, flush bool) (bool, error) {
	state, err := d.backend.Control(ctx)
	if err != nil {
		return false, types.WrapError(err, "failed to read lock state")
	}
	d.observeGeneration(state.Generation)

	if !state.Locked() {
		d.logger.Warn("Unblock refused, cache is not blocked", zap.String("owner", d.owner))
		return false, nil
	}
	if state.LockOwner != d.owner {
		d.logger.Warn("Unblock refused, lock is held by another process",
			zap.String("owner", d.owner),
			zap.String("holder", state.LockOwner))
		return false, nil
	}

	if flush {
		failed, err := d.Flush(ctx, true)
		if err != nil {
			return false, err
		}
		if len(failed) > 0 {
			d.logger.Warn("Flush before unblock dropped keys", zap.Strings("keys", failed))
		}
	}

	if err := d.backend.ReleaseLock(ctx); err != nil {
		return false, types.WrapError(err, "failed to release lock")
	}

	d.logger.Debug("Cache unblocked", zap.String("owner", d.owner))
	return true, nil
}

// IsBlocked reports whether another process holds the lock.
func (d *DistributedCache[V]) IsBlocked(ctx context.Context) (bool, error) {
	state, err := d.backend.Control(ctx)
	if err != nil {
		return false, types.WrapError(err, "failed to read lock state")
	}
	d.observeGeneration(state.Generation)

	return state.BlockedFor(d.owner), nil
}

// Clear empties the backend and every local layer and publishes a new
// generation. With block set the lock stays held by this instance until
// Unblock is called.
func (d *DistributedCache[V]) Clear(ctx context.Context, block bool) error {
	if err := d.waitUnblocked(ctx, "clear"); err != nil {
		return err
	}

	if err := d.Block(ctx); err != nil {
		return err
	}

	generation, err := d.backend.Reset(ctx, d.owner, d.config.LockTTL)
	if err != nil {
		d.logger.Error("Failed to reset backend", zap.Error(err))
		if !block {
			if _, unblockErr := d.Unblock(ctx, false); unblockErr != nil {
				d.logger.Error("Failed to release lock after failed clear", zap.Error(unblockErr))
			}
		}
		return types.WrapError(err, "failed to clear backend")
	}

	d.mu.Lock()
	d.wipeUnsafe()
	d.generation = generation
	d.mu.Unlock()

	d.logger.Info("Cache cleared",
		zap.String("owner", d.owner),
		zap.Int64("generation", generation),
		zap.Bool("keep_blocked", block))

	if block {
		return nil
	}

	_, err = d.Unblock(ctx, false)
	return err
}

// ReplicateClear drops every local layer after a clear made elsewhere and
// adopts its generation.
func (d *DistributedCache[V]) ReplicateClear(generation int64) {
	d.mu.Lock()
	d.replicateClearUnsafe(generation)
	d.mu.Unlock()
}

func (d *DistributedCache[V]) ReplicateClearIfNecessary(ctx context.Context) (bool, error) {
	state, err := d.backend.Control(ctx)
	if err != nil {
		return false, types.WrapError(err, "failed to read generation")
	}
	return d.observeGeneration(state.Generation), nil
}

// WasCleared reports whether a clear from another process was replicated
// since the previous call.
func (d *DistributedCache[V]) WasCleared() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cleared := d.cleared
	d.cleared = false
	return cleared
}

func (d *DistributedCache[V]) currentGeneration() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generation
}

func (d *DistributedCache[V]) observeGeneration(generation int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if generation == d.generation {
		return false
	}

	d.replicateClearUnsafe(generation)
	return true
}

func (d *DistributedCache[V]) replicateClearUnsafe(generation int64) {
	previous := d.generation
	d.wipeUnsafe()
	d.generation = generation
	d.cleared = true

	d.metrics.generationReset()
	d.logger.Info("Replicated clear from another process",
		zap.Int64("previous_generation", previous),
		zap.Int64("generation", generation))
}

func (d *DistributedCache[V]) wipeUnsafe() {
	d.resetBufferUnsafe()
	d.permanent = make(map[string]V)
	d.oversize = make(map[string]V)
}

// waitUnblocked polls the lock until no other process holds it.
func (d *DistributedCache[V]) waitUnblocked(ctx context.Context, op string) error {
	return d.pollUnblocked(ctx, op, func() (bool, error) {
		return d.IsBlocked(ctx)
	})
}

// pollUnblocked calls probe until it reports no foreign lock. Entering and
// leaving the wait are each logged once. A probe error is logged and treated
// as unblocked.
func (d *DistributedCache[V]) pollUnblocked(ctx context.Context, op string, probe func() (bool, error)) error {
	waiting := false
	started := time.Now()

	for {
		blocked, err := probe()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			d.logger.Error("Failed to read lock state, proceeding", zap.String("operation", op), zap.Error(err))
			blocked = false
		}

		if !blocked {
			if waiting {
				d.logger.Info("Cache unblocked, resuming",
					zap.String("operation", op),
					zap.Duration("waited", time.Since(started)))
			}
			return nil
		}

		if !waiting {
			waiting = true
			d.metrics.lockWait()
			d.logger.Info("Cache blocked by another process, waiting", zap.String("operation", op))
		}

		if err := d.sleepPoll(ctx); err != nil {
			return err
		}
	}
}

// sleepPoll sleeps between half and all of PollInterval.
func (d *DistributedCache[V]) sleepPoll(ctx context.Context) error {
	interval := d.config.PollInterval
	jittered := interval/2 + time.Duration(rand.Int63n(int64(interval/2)+1))

	timer := time.NewTimer(jittered)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
