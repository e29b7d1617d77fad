package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-metacache/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// LoadFromFile reads a YAML file over Defaults. ${VAR} references are
// expanded from the environment before parsing.
func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, map[string]interface{}, error) {
	if configPath == "" {
		return nil, nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, nil, types.Errorf(types.ErrConfigNotFound, "file not found: %s", configPath)
	}

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, nil, types.WrapError(err, "failed to read config file")
	}

	return l.Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes YAML over Defaults and validates the result. The raw document
// is returned alongside for path lookups.
func (l *Loader) Parse(data []byte) (*types.ServiceConfig, map[string]interface{}, error) {
	config := l.Defaults()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, nil, types.WrapError(types.ErrConfigParseFailed, err.Error())
	}

	if err := l.Validate(config); err != nil {
		return nil, nil, err
	}

	raw, err := toRaw(config)
	if err != nil {
		return nil, nil, err
	}

	return config, raw, nil
}

func (l *Loader) Validate(config *types.ServiceConfig) error {
	if err := l.validator.Struct(config); err != nil {
		return types.WrapError(types.ErrConfigValidateFailed, err.Error())
	}

	if config.Cache.Type == "distributed" && config.Backend == nil {
		return types.Errorf(types.ErrConfigValidateFailed, "distributed cache requires a backend section")
	}
	if config.Backend != nil && config.Backend.Type == "redis" && config.Backend.Redis == nil {
		return types.Errorf(types.ErrConfigValidateFailed, "redis backend requires a redis section")
	}

	return nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name: "metacache",
		Logger: &types.LoggerConfig{
			Type:  "default",
			Level: "info",
		},
		Cache: &types.CacheConfig{
			Type:       "local",
			DefaultTTL: 0,
			Local: &types.LocalConfig{
				Limit: 1000,
			},
			Distributed: &types.DistributedConfig{
				LocalSize:        100,
				LocalTime:        time.Minute,
				LockTTL:          time.Minute,
				PollInterval:     time.Second,
				OversizeFallback: true,
			},
		},
		Backend: &types.BackendConfig{
			Type: "memory",
			Memory: &types.MemoryConfig{
				MaxItemSize:     1 << 20,
				CleanupInterval: time.Minute,
			},
		},
		Metrics: &types.MetricsConfig{
			Enabled:   false,
			Type:      "prometheus",
			Namespace: "metacache",
		},
	}
}

func toRaw(config *types.ServiceConfig) (map[string]interface{}, error) {
	data, err := yaml.Marshal(config)
	if err != nil {
		return nil, types.WrapError(err, "failed to marshal config")
	}

	raw := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, types.WrapError(err, "failed to unmarshal config")
	}
	return raw, nil
}
