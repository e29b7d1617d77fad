package types

import (
	"time"
)

type ServiceConfig struct {
	Name    string         `yaml:"name" json:"name" validate:"required"`
	Logger  *LoggerConfig  `yaml:"logger" json:"logger" validate:"required"`
	Cache   *CacheConfig   `yaml:"cache" json:"cache" validate:"required"`
	Backend *BackendConfig `yaml:"backend" json:"backend"`
	Metrics *MetricsConfig `yaml:"metrics" json:"metrics"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level" validate:"required"`
	Config interface{} `yaml:"config" json:"config"`
}

type CacheConfig struct {
	Type        string             `yaml:"type" json:"type" validate:"required,oneof=local distributed"`
	DefaultTTL  time.Duration      `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
	Local       *LocalConfig       `yaml:"local" json:"local"`
	Distributed *DistributedConfig `yaml:"distributed" json:"distributed"`
}

type LocalConfig struct {
	Limit           int           `yaml:"limit" json:"limit" validate:"min=0"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" validate:"min=0"`
}

type DistributedConfig struct {
	LocalSize        int           `yaml:"local_size" json:"local_size" validate:"min=0"`
	LocalTime        time.Duration `yaml:"local_time" json:"local_time" validate:"min=0"`
	LockTTL          time.Duration `yaml:"lock_ttl" json:"lock_ttl" validate:"min=0"`
	PollInterval     time.Duration `yaml:"poll_interval" json:"poll_interval" validate:"min=0"`
	StrictLock       bool          `yaml:"strict_lock" json:"strict_lock"`
	OversizeFallback bool          `yaml:"oversize_fallback" json:"oversize_fallback"`
}

type BackendConfig struct {
	Type   string        `yaml:"type" json:"type" validate:"required,oneof=memory redis"`
	Memory *MemoryConfig `yaml:"memory" json:"memory"`
	Redis  *RedisConfig  `yaml:"redis" json:"redis"`
}

type MemoryConfig struct {
	MaxItemSize     int           `yaml:"max_item_size" json:"max_item_size" validate:"min=0"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" validate:"min=0"`
}

type RedisConfig struct {
	Host               string        `yaml:"host" json:"host"`
	Port               int           `yaml:"port" json:"port" validate:"min=0,max=65535"`
	Password           string        `yaml:"password" json:"password"`
	DB                 int           `yaml:"db" json:"db" validate:"min=0"`
	PoolSize           int           `yaml:"pool_size" json:"pool_size" validate:"min=0"`
	MinIdleConnections int           `yaml:"min_idle_connections" json:"min_idle_connections" validate:"min=0"`
	DialTimeout        time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout        time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout" json:"write_timeout"`
	KeyPrefix          string        `yaml:"key_prefix" json:"key_prefix"`
	MaxValueSize       int           `yaml:"max_value_size" json:"max_value_size" validate:"min=0"`
}

type MetricsConfig struct {
	Enabled         bool              `yaml:"enabled" json:"enabled"`
	Type            string            `yaml:"type" json:"type" validate:"omitempty,oneof=prometheus noop"`
	Namespace       string            `yaml:"namespace" json:"namespace"`
	Subsystem       string            `yaml:"subsystem" json:"subsystem"`
	Labels          map[string]string `yaml:"labels" json:"labels"`
	EnableGoMetrics bool              `yaml:"enable_go_metrics" json:"enable_go_metrics"`
}
