package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-metacache/types"
)

// NewCache builds the variant named by config. The returned cache is meant to
// be created once at startup and handed to every consumer.
func NewCache[V any](ctx context.Context, config *types.CacheConfig, backend types.Backend, opts ...Option) (types.Cache[V], error) {
	if config == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "cache config is required")
	}

	if config.DefaultTTL > 0 {
		opts = append([]Option{WithDefaultTTL(config.DefaultTTL)}, opts...)
	}

	var impl types.Cache[V]

	switch config.Type {
	case "local":
		impl = NewLocalCache[V](config.Local, opts...)
	case "distributed":
		c, err := NewDistributedCache[V](ctx, backend, config.Distributed, opts...)
		if err != nil {
			return nil, err
		}
		impl = c
	default:
		return nil, types.Errorf(types.ErrCacheTypeUnknown, "type: %s", config.Type)
	}

	buildOptions(opts).logger.Info("Cache initialized", zap.String("type", config.Type))

	return impl, nil
}
