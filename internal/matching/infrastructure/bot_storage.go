package infrastructure

import (
	"context"

	"github.com/peiko-en/exchange/internal/matching/domain"
	"github.com/peiko-en/exchange/pkg/cache"
)

// botOrdersKey 做市机器人订单集合
const botOrdersKey = "bot:orders"

// RedisBotOrderStorage 机器人订单集合，撤单清理路径据此区分删除与撤单策略
type RedisBotOrderStorage struct {
	cache *cache.RedisCache
}

func NewRedisBotOrderStorage(c *cache.RedisCache) domain.BotOrderStorage {
	return &RedisBotOrderStorage{cache: c}
}

func (s *RedisBotOrderStorage) Add(ctx context.Context, orderID uint64) error {
	return s.cache.SAdd(ctx, botOrdersKey, orderID)
}

func (s *RedisBotOrderStorage) Remove(ctx context.Context, orderID uint64) error {
	return s.cache.SRem(ctx, botOrdersKey, orderID)
}

func (s *RedisBotOrderStorage) Contains(ctx context.Context, orderID uint64) (bool, error) {
	return s.cache.SIsMember(ctx, botOrdersKey, orderID)
}
