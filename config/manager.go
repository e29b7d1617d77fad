package config

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-metacache/types"
)

// ConfigurationManager holds the effective configuration and its path index.
// Reload swaps both atomically.
type ConfigurationManager struct {
	configPath  string
	loader      *Loader
	config      atomic.Pointer[types.ServiceConfig]
	parser      atomic.Pointer[Parser]
	loadTimeout time.Duration
}

// NewConfigurationManager loads configPath, or falls back to Defaults when
// configPath is empty.
func NewConfigurationManager(ctx context.Context, configPath string) (*ConfigurationManager, error) {
	cm := &ConfigurationManager{
		configPath:  configPath,
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	if configPath == "" {
		config := cm.loader.Defaults()
		raw, err := toRaw(config)
		if err != nil {
			return nil, err
		}
		cm.store(config, raw)
		return cm, nil
	}

	if err := cm.Load(ctx); err != nil {
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

func (cm *ConfigurationManager) Load(ctx context.Context) error {
	loadCtx, cancel := context.WithTimeout(ctx, cm.loadTimeout)
	defer cancel()

	config, raw, err := cm.loader.LoadFromFile(loadCtx, cm.configPath)
	if err != nil {
		return types.WrapError(err, "failed to load configuration from file")
	}

	cm.store(config, raw)
	return nil
}

func (cm *ConfigurationManager) GetConfig() *types.ServiceConfig {
	return cm.config.Load()
}

func (cm *ConfigurationManager) GetValue(path string, defaultValue interface{}) interface{} {
	parser := cm.parser.Load()
	if parser == nil {
		return defaultValue
	}
	return parser.GetValue(path, defaultValue)
}

func (cm *ConfigurationManager) GetAs(path string, target interface{}) error {
	parser := cm.parser.Load()
	if parser == nil {
		return types.ErrConfigNotFound
	}
	return parser.GetAs(path, target)
}

func (cm *ConfigurationManager) GetAllPaths() []string {
	parser := cm.parser.Load()
	if parser == nil {
		return nil
	}
	return parser.GetAllPaths()
}

func (cm *ConfigurationManager) store(config *types.ServiceConfig, raw map[string]interface{}) {
	cm.config.Store(config)
	cm.parser.Store(NewParser(raw))
}
