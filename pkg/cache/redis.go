// Package cache 提供 Redis 客户端封装，支持连接池与有序集合操作
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/peiko-en/exchange/pkg/logging"
	"github.com/redis/go-redis/v9"
)

// Config Redis 配置
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	MaxPoolSize  int
	ReadTimeout  int
	WriteTimeout int
}

// RedisCache Redis 缓存实现
type RedisCache struct {
	client *redis.Client
	config Config
}

// New 创建 Redis 缓存实例
func New(cfg Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxPoolSize,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info(context.Background(), "Redis connected successfully", "addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))

	return &RedisCache{
		client: client,
		config: cfg,
	}, nil
}

// Delete 删除缓存
func (rc *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := rc.client.Del(ctx, keys...).Err()
	if err != nil {
		logging.Error(ctx, "Redis Del failed", "keys", keys, "error", err)
	}
	return err
}

// ZAdd 添加有序集合成员
func (rc *RedisCache) ZAdd(ctx context.Context, key string, members ...redis.Z) error {
	err := rc.client.ZAdd(ctx, key, members...).Err()
	if err != nil {
		logging.Error(ctx, "Redis ZAdd failed", "key", key, "error", err)
	}
	return err
}

// ZRange 获取有序集合范围内的成员（按分数升序）
func (rc *RedisCache) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := rc.client.ZRange(ctx, key, start, stop).Result()
	if err != nil {
		logging.Error(ctx, "Redis ZRange failed", "key", key, "error", err)
		return nil, err
	}
	return vals, nil
}

// ZRevRange 获取有序集合范围内的成员（按分数降序）
func (rc *RedisCache) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := rc.client.ZRevRange(ctx, key, start, stop).Result()
	if err != nil {
		logging.Error(ctx, "Redis ZRevRange failed", "key", key, "error", err)
		return nil, err
	}
	return vals, nil
}

// ZRangeWithScores 获取有序集合范围内的成员及分数（升序）
func (rc *RedisCache) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]redis.Z, error) {
	vals, err := rc.client.ZRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		logging.Error(ctx, "Redis ZRangeWithScores failed", "key", key, "error", err)
		return nil, err
	}
	return vals, nil
}

// ZRevRangeWithScores 获取有序集合范围内的成员及分数（降序）
func (rc *RedisCache) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]redis.Z, error) {
	vals, err := rc.client.ZRevRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		logging.Error(ctx, "Redis ZRevRangeWithScores failed", "key", key, "error", err)
		return nil, err
	}
	return vals, nil
}

// ZRangeByScore 按分数范围获取有序集合成员（升序）
func (rc *RedisCache) ZRangeByScore(ctx context.Context, key string, min, max string, offset, count int64) ([]string, error) {
	vals, err := rc.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:    min,
		Max:    max,
		Offset: offset,
		Count:  count,
	}).Result()
	if err != nil {
		logging.Error(ctx, "Redis ZRangeByScore failed", "key", key, "error", err)
		return nil, err
	}
	return vals, nil
}

// ZRevRangeByScore 按分数范围获取有序集合成员（降序）
func (rc *RedisCache) ZRevRangeByScore(ctx context.Context, key string, max, min string, offset, count int64) ([]string, error) {
	vals, err := rc.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:    min,
		Max:    max,
		Offset: offset,
		Count:  count,
	}).Result()
	if err != nil {
		logging.Error(ctx, "Redis ZRevRangeByScore failed", "key", key, "error", err)
		return nil, err
	}
	return vals, nil
}

// ZRem 删除有序集合成员
func (rc *RedisCache) ZRem(ctx context.Context, key string, members ...any) error {
	err := rc.client.ZRem(ctx, key, members...).Err()
	if err != nil {
		logging.Error(ctx, "Redis ZRem failed", "key", key, "error", err)
	}
	return err
}

// SAdd 添加集合成员
func (rc *RedisCache) SAdd(ctx context.Context, key string, members ...any) error {
	err := rc.client.SAdd(ctx, key, members...).Err()
	if err != nil {
		logging.Error(ctx, "Redis SAdd failed", "key", key, "error", err)
	}
	return err
}

// SRem 删除集合成员
func (rc *RedisCache) SRem(ctx context.Context, key string, members ...any) error {
	err := rc.client.SRem(ctx, key, members...).Err()
	if err != nil {
		logging.Error(ctx, "Redis SRem failed", "key", key, "error", err)
	}
	return err
}

// SIsMember 判断是否为集合成员
func (rc *RedisCache) SIsMember(ctx context.Context, key string, member any) (bool, error) {
	ok, err := rc.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		logging.Error(ctx, "Redis SIsMember failed", "key", key, "error", err)
		return false, err
	}
	return ok, nil
}

// SCard 获取集合成员数量
func (rc *RedisCache) SCard(ctx context.Context, key string) (int64, error) {
	n, err := rc.client.SCard(ctx, key).Result()
	if err != nil {
		logging.Error(ctx, "Redis SCard failed", "key", key, "error", err)
		return 0, err
	}
	return n, nil
}

// Close 关闭 Redis 连接
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// GetClient 获取底层 Redis 客户端（用于高级操作）
func (rc *RedisCache) GetClient() *redis.Client {
	return rc.client
}
