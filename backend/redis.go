package backend

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-metacache/logger"
	"github.com/saiset-co/sai-metacache/types"
)

const (
	dataNamespace    = "d"
	controlNamespace = "ctl"
	unlockedValue    = "0"
	scanBatchSize    = 500
)

var tryLockScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and current ~= '0' and current ~= ARGV[1] then
	return 0
end
local ttl = tonumber(ARGV[2])
if ttl > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
else
	redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// RedisStore keeps data under "<prefix>:d:" and coordination state under
// "<prefix>:ctl:", so caller keys never collide with the lock or generation.
type RedisStore struct {
	logger        types.Logger
	config        *types.RedisConfig
	client        redis.UniversalClient
	lockKey       string
	generationKey string
}

func DefaultRedisConfig() *types.RedisConfig {
	return &types.RedisConfig{
		Host:               "localhost",
		Port:               6379,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		KeyPrefix:          "metacache",
		MaxValueSize:       DefaultMaxItemSize,
	}
}

func NewRedisStore(ctx context.Context, config *types.RedisConfig, log types.Logger) (*RedisStore, error) {
	redisConfig := DefaultRedisConfig()
	if config != nil {
		redisConfig = mergeRedisConfig(redisConfig, config)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password:     redisConfig.Password,
		DB:           redisConfig.DB,
		PoolSize:     redisConfig.PoolSize,
		MinIdleConns: redisConfig.MinIdleConnections,
		DialTimeout:  redisConfig.DialTimeout,
		ReadTimeout:  redisConfig.ReadTimeout,
		WriteTimeout: redisConfig.WriteTimeout,
	})

	store := NewRedisStoreFromClient(client, redisConfig, log)

	pingCtx, cancel := context.WithTimeout(ctx, redisConfig.DialTimeout)
	defer cancel()

	if err := store.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, types.WrapError(types.ErrBackendConnectionFailed, err.Error())
	}

	return store, nil
}

func NewRedisStoreFromClient(client redis.UniversalClient, config *types.RedisConfig, log types.Logger) *RedisStore {
	if config == nil {
		config = DefaultRedisConfig()
	}

	store := &RedisStore{
		logger: logger.OrNop(log),
		config: config,
		client: client,
	}
	store.lockKey = store.controlKey("lock")
	store.generationKey = store.controlKey("generation")

	return store
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.dataKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "redis get %s", key)
	}
	return data, true, nil
}

func (r *RedisStore) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}

	values, err := r.client.MGet(ctx, r.dataKeys(keys)...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis mget")
	}

	return collectValues(keys, values), nil
}

func (r *RedisStore) Read(ctx context.Context, keys []string) (map[string][]byte, types.ControlState, error) {
	var dataCmd *redis.SliceCmd

	cmds, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			dataCmd = pipe.MGet(ctx, r.dataKeys(keys)...)
		}
		pipe.MGet(ctx, r.lockKey, r.generationKey)
		return nil
	})
	if err != nil {
		return nil, types.ControlState{}, errors.Wrap(err, "redis read pipeline")
	}

	result := map[string][]byte{}
	if dataCmd != nil {
		result = collectValues(keys, dataCmd.Val())
	}

	controlCmd := cmds[len(cmds)-1].(*redis.SliceCmd)
	state, err := parseControl(controlCmd.Val())
	if err != nil {
		return nil, types.ControlState{}, err
	}

	return result, state, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.checkSize(key, value); err != nil {
		return err
	}

	if err := r.client.Set(ctx, r.dataKey(key), value, ttl).Err(); err != nil {
		return r.mapWriteError(err, key)
	}
	return nil
}

func (r *RedisStore) SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}

	for key, value := range items {
		if err := r.checkSize(key, value); err != nil {
			return err
		}
	}

	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, value := range items {
			pipe.Set(ctx, r.dataKey(key), value, ttl)
		}
		return nil
	})
	if err != nil {
		return r.mapWriteError(err, fmt.Sprintf("batch of %d", len(items)))
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.dataKey(key)).Err(); err != nil {
		return errors.Wrapf(err, "redis del %s", key)
	}
	return nil
}

func (r *RedisStore) DeleteMulti(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, r.dataKeys(keys)...).Err(); err != nil {
		return errors.Wrap(err, "redis del batch")
	}
	return nil
}

func (r *RedisStore) FlushAll(ctx context.Context) error {
	keys, err := r.scanDataKeys(ctx)
	if err != nil {
		return err
	}

	for start := 0; start < len(keys); start += scanBatchSize {
		end := min(start+scanBatchSize, len(keys))
		if err := r.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return errors.Wrap(err, "redis flush")
		}
	}

	r.logger.Debug("Redis store flushed", zap.Int("keys", len(keys)))
	return nil
}

func (r *RedisStore) Stats(ctx context.Context) (types.StoreStats, error) {
	keys, err := r.scanDataKeys(ctx)
	if err != nil {
		return types.StoreStats{}, err
	}
	return types.StoreStats{Items: int64(len(keys))}, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis client", zap.Error(err))
		return types.WrapError(err, "failed to close redis client")
	}
	return nil
}

func (r *RedisStore) Control(ctx context.Context) (types.ControlState, error) {
	values, err := r.client.MGet(ctx, r.lockKey, r.generationKey).Result()
	if err != nil {
		return types.ControlState{}, errors.Wrap(err, "redis control read")
	}
	return parseControl(values)
}

func (r *RedisStore) WriteLock(ctx context.Context, owner string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.lockKey, owner, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis lock write")
	}
	return nil
}

func (r *RedisStore) TryLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	acquired, err := tryLockScript.Run(ctx, r.client, []string{r.lockKey}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, errors.Wrap(err, "redis try lock")
	}
	return acquired == 1, nil
}

func (r *RedisStore) ReleaseLock(ctx context.Context) error {
	if err := r.client.Set(ctx, r.lockKey, unlockedValue, 0).Err(); err != nil {
		return errors.Wrap(err, "redis lock release")
	}
	return nil
}

func (r *RedisStore) Reset(ctx context.Context, owner string, lockTTL time.Duration) (int64, error) {
	keys, err := r.scanDataKeys(ctx)
	if err != nil {
		return 0, err
	}

	var generationCmd *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for start := 0; start < len(keys); start += scanBatchSize {
			end := min(start+scanBatchSize, len(keys))
			pipe.Del(ctx, keys[start:end]...)
		}
		pipe.Set(ctx, r.lockKey, owner, lockTTL)
		generationCmd = pipe.Incr(ctx, r.generationKey)
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "redis reset transaction")
	}

	r.logger.Debug("Redis store reset",
		zap.Int("flushed_keys", len(keys)),
		zap.Int64("generation", generationCmd.Val()))

	return generationCmd.Val(), nil
}

func (r *RedisStore) dataKey(key string) string {
	return r.namespaced(dataNamespace + ":" + key)
}

func (r *RedisStore) controlKey(name string) string {
	return r.namespaced(controlNamespace + ":" + name)
}

func (r *RedisStore) namespaced(key string) string {
	if r.config.KeyPrefix != "" {
		return r.config.KeyPrefix + ":" + key
	}
	return key
}

func (r *RedisStore) dataKeys(keys []string) []string {
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = r.dataKey(key)
	}
	return full
}

func (r *RedisStore) scanDataKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.dataKey("*"), scanBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "redis scan")
	}
	return keys, nil
}

func (r *RedisStore) checkSize(key string, value []byte) error {
	if r.config.MaxValueSize > 0 && len(value) > r.config.MaxValueSize {
		return types.Errorf(types.ErrValueTooLarge, "key %s: %d bytes exceeds %d", key, len(value), r.config.MaxValueSize)
	}
	return nil
}

func (r *RedisStore) mapWriteError(err error, target string) error {
	if strings.Contains(err.Error(), "exceeds maximum allowed size") {
		return types.Errorf(types.ErrValueTooLarge, "%s: %v", target, err)
	}
	return errors.Wrapf(err, "redis set %s", target)
}

func collectValues(keys []string, values []interface{}) map[string][]byte {
	result := make(map[string][]byte, len(keys))
	for i, value := range values {
		if i >= len(keys) {
			break
		}
		switch v := value.(type) {
		case string:
			result[keys[i]] = []byte(v)
		case []byte:
			result[keys[i]] = v
		}
	}
	return result
}

func parseControl(values []interface{}) (types.ControlState, error) {
	var state types.ControlState
	if len(values) != 2 {
		return state, types.NewErrorf("unexpected control reply of %d values", len(values))
	}

	if owner, ok := values[0].(string); ok && owner != unlockedValue {
		state.LockOwner = owner
	}

	if raw, ok := values[1].(string); ok && raw != "" {
		generation, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return state, errors.Wrap(err, "parse generation")
		}
		state.Generation = generation
	}

	return state, nil
}

func mergeRedisConfig(defaults, config *types.RedisConfig) *types.RedisConfig {
	merged := *config
	if merged.Host == "" {
		merged.Host = defaults.Host
	}
	if merged.Port == 0 {
		merged.Port = defaults.Port
	}
	if merged.PoolSize == 0 {
		merged.PoolSize = defaults.PoolSize
	}
	if merged.DialTimeout == 0 {
		merged.DialTimeout = defaults.DialTimeout
	}
	if merged.ReadTimeout == 0 {
		merged.ReadTimeout = defaults.ReadTimeout
	}
	if merged.WriteTimeout == 0 {
		merged.WriteTimeout = defaults.WriteTimeout
	}
	if merged.KeyPrefix == "" {
		merged.KeyPrefix = defaults.KeyPrefix
	}
	if merged.MaxValueSize == 0 {
		merged.MaxValueSize = defaults.MaxValueSize
	}
	return &merged
}
