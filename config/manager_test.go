package config

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-metacache/types"
)

func TestConfigurationManager_Defaults(t *testing.T) {
	cm, err := NewConfigurationManager(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "local", cm.GetConfig().Cache.Type)
	assert.Equal(t, "local", cm.GetValue("cache.type", ""))
	assert.Equal(t, "fallback", cm.GetValue("cache.nope", "fallback"))
	assert.Contains(t, cm.GetAllPaths(), "cache.distributed.local_size")
}

func TestConfigurationManager_Reload(t *testing.T) {
	ctx := context.Background()
	path := writeConfig(t, "cache:\n  type: local\n  local:\n    limit: 10\n")

	cm, err := NewConfigurationManager(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 10, cm.GetConfig().Cache.Local.Limit)

	require.NoError(t, os.WriteFile(path, []byte("cache:\n  type: local\n  local:\n    limit: 20\n"), 0o600))
	require.NoError(t, cm.Load(ctx))
	assert.Equal(t, 20, cm.GetConfig().Cache.Local.Limit)

	var local types.LocalConfig
	require.NoError(t, cm.GetAs("cache.local", &local))
	assert.Equal(t, 20, local.Limit)
}

func TestConfigurationManager_LoadFailureKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	path := writeConfig(t, "cache:\n  type: local\n")

	cm, err := NewConfigurationManager(ctx, path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("cache:\n  type: sharded\n"), 0o600))
	assert.ErrorIs(t, cm.Load(ctx), types.ErrConfigValidateFailed)
	assert.Equal(t, "local", cm.GetConfig().Cache.Type)
}

func TestParser_GetAs(t *testing.T) {
	p := NewParser(map[string]interface{}{
		"backend": map[string]interface{}{
			"redis": map[string]interface{}{"host": "h", "port": 6380},
		},
	})

	var redis types.RedisConfig
	require.NoError(t, p.GetAs("backend.redis", &redis))
	assert.Equal(t, "h", redis.Host)
	assert.Equal(t, 6380, redis.Port)

	assert.ErrorIs(t, p.GetAs("backend.memory", &redis), types.ErrConfigNotFound)
	assert.Nil(t, p.GetValue("backend.redis.host.deeper", nil))
	assert.Equal(t, []string{"backend.redis.host", "backend.redis.port"}, p.GetAllPaths())
}
