package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-metacache/backend"
	"github.com/saiset-co/sai-metacache/cache"
	"github.com/saiset-co/sai-metacache/config"
	"github.com/saiset-co/sai-metacache/logger"
	"github.com/saiset-co/sai-metacache/metrics"
	"github.com/saiset-co/sai-metacache/types"
)

// runtime is everything one command invocation needs.
type runtime struct {
	config      *config.ConfigurationManager
	logger      types.Logger
	metrics     types.Metrics
	backend     types.Backend
	cache       types.Cache[any]
	ownsBackend bool
}

type settings struct {
	configPath string
	owner      string
}

type opener func(ctx context.Context, s settings) (*runtime, error)

func openRuntime(ctx context.Context, s settings) (*runtime, error) {
	cm, err := config.NewConfigurationManager(ctx, s.configPath)
	if err != nil {
		return nil, err
	}

	return buildRuntime(ctx, cm, nil, s.owner)
}

// buildRuntime wires the configured stack. A non-nil shared backend is used
// as is and left open on close. An empty owner lets the cache pick a unique one.
func buildRuntime(ctx context.Context, cm *config.ConfigurationManager, shared types.Backend, owner string) (*runtime, error) {
	cfg := cm.GetConfig()

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}

	m, err := metrics.NewMetrics(log, cfg.Metrics)
	if err != nil {
		return nil, types.WrapError(err, "failed to create metrics")
	}

	r := &runtime{
		config:  cm,
		logger:  log,
		metrics: m,
		backend: shared,
	}

	if r.backend == nil && cfg.Cache.Type == "distributed" {
		r.backend, err = backend.NewBackend(ctx, cfg.Backend, log)
		if err != nil {
			return nil, types.WrapError(err, "failed to create backend")
		}
		r.ownsBackend = true
	}

	r.cache, err = cache.NewCache[any](ctx, cfg.Cache, r.backend,
		cache.WithLogger(log),
		cache.WithMetrics(m),
		cache.WithOwner(owner),
	)
	if err != nil {
		r.closeBackend()
		return nil, types.WrapError(err, "failed to create cache")
	}

	if err := r.cache.Start(); err != nil {
		r.closeBackend()
		return nil, err
	}

	return r, nil
}

// close stops the cache, which flushes pending writes, then releases the backend.
func (r *runtime) close() error {
	var err error
	if r.cache.IsRunning() {
		err = r.cache.Stop()
	}
	r.closeBackend()

	if syncer, ok := r.logger.(interface{ Sync() error }); ok {
		_ = syncer.Sync()
	}

	return err
}

func (r *runtime) closeBackend() {
	if !r.ownsBackend || r.backend == nil {
		return
	}
	if err := r.backend.Close(); err != nil {
		r.logger.Warn("Failed to close backend", zap.Error(err))
	}
}
