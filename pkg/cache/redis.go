// Package cache 提供 Redis 客户端封装
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wyfcoding/srdsledger/pkg/config"
)

// RedisCache Redis 缓存实现
type RedisCache struct {
	client *redis.Client
	log    *slog.Logger
}

// New 创建 Redis 缓存实例并检查连通性
func New(cfg config.RedisConfig, log *slog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("redis connected", "addr", client.Options().Addr)
	return NewFromClient(client, log), nil
}

// NewFromClient 包装已有的客户端
func NewFromClient(client *redis.Client, log *slog.Logger) *RedisCache {
	return &RedisCache{client: client, log: log}
}

// Client 返回底层客户端，供限流等组件复用连接池
func (rc *RedisCache) Client() *redis.Client {
	return rc.client
}

// Get 获取缓存值，key 不存在时返回空串和 false
func (rc *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := rc.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		rc.log.ErrorContext(ctx, "redis get failed", "key", key, "error", err)
		return "", false, err
	}
	return val, true, nil
}

// Set 设置缓存值
func (rc *RedisCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	if err := rc.client.Set(ctx, key, value, expiration).Err(); err != nil {
		rc.log.ErrorContext(ctx, "redis set failed", "key", key, "error", err)
		return err
	}
	return nil
}

// Delete 删除缓存
func (rc *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := rc.client.Del(ctx, keys...).Err(); err != nil {
		rc.log.ErrorContext(ctx, "redis delete failed", "keys", keys, "error", err)
		return err
	}
	return nil
}

// HGet 读取 hash 字段，key 或字段不存在时返回空串和 false
func (rc *RedisCache) HGet(ctx context.Context, key, field string) (string, bool, error) {
	val, err := rc.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		rc.log.ErrorContext(ctx, "redis hget failed", "key", key, "field", field, "error", err)
		return "", false, err
	}
	return val, true, nil
}

// RunScript 执行 Lua 脚本，先尝试 EVALSHA，脚本未加载时回退到 EVAL
func (rc *RedisCache) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error) {
	res, err := script.Run(ctx, rc.client, keys, args...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		rc.log.ErrorContext(ctx, "redis script failed", "keys", keys, "error", err)
		return nil, err
	}
	return res, nil
}

// Close 关闭连接
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
