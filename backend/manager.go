package backend

import (
	"context"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-metacache/types"
)

var customBackendCreators = make(map[string]types.BackendCreator)

func RegisterBackend(name string, creator types.BackendCreator) {
	customBackendCreators[name] = creator
}

func NewBackend(ctx context.Context, config *types.BackendConfig, logger types.Logger) (types.Backend, error) {
	if config == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "backend config is required")
	}

	var impl types.Backend
	var err error

	switch config.Type {
	case "memory":
		impl = NewMemoryStore(config.Memory, logger)
	case "redis":
		impl, err = NewRedisStore(ctx, config.Redis, logger)
	default:
		creator, exists := customBackendCreators[config.Type]
		if !exists {
			return nil, types.Errorf(types.ErrBackendTypeUnknown, "type: %s", config.Type)
		}
		impl, err = creator(config, logger)
	}

	if err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("Backing store initialized", zap.String("type", config.Type))
	}

	return impl, nil
}
