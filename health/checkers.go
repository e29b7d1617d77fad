package health

import (
	"context"

	"github.com/saiset-co/sai-metacache/types"
)

// BackendChecker pings the backing store and reports the lock holder and
// generation seen by every process.
func BackendChecker(backend types.Backend) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		if err := backend.Ping(ctx); err != nil {
			return types.HealthCheck{Status: types.StatusUnhealthy, Message: err.Error()}
		}

		state, err := backend.Control(ctx)
		if err != nil {
			return types.HealthCheck{Status: types.StatusUnhealthy, Message: err.Error()}
		}

		details := map[string]interface{}{
			"locked":     state.Locked(),
			"generation": state.Generation,
		}
		if state.Locked() {
			details["lock_owner"] = state.LockOwner
		}

		stats, err := backend.Stats(ctx)
		if err == nil {
			details["items"] = stats.Items
		}

		return types.HealthCheck{Status: types.StatusHealthy, Details: details}
	}
}

type checkedCache interface {
	types.LifecycleManager
	IsPaused() bool
	Len(ctx context.Context) (int, error)
}

// CacheChecker reports whether the cache is running. A paused cache is
// healthy but flagged, since its buffer does not drain.
func CacheChecker(c checkedCache) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		if !c.IsRunning() {
			return types.HealthCheck{Status: types.StatusUnhealthy, Message: "cache is not running"}
		}

		n, err := c.Len(ctx)
		if err != nil {
			return types.HealthCheck{Status: types.StatusUnknown, Message: err.Error()}
		}

		return types.HealthCheck{
			Status: types.StatusHealthy,
			Details: map[string]interface{}{
				"entries": n,
				"paused":  c.IsPaused(),
			},
		}
	}
}
