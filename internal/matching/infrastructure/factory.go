package infrastructure

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/peiko-en/exchange/internal/matching/domain"
	"github.com/peiko-en/exchange/pkg/cache"
)

// 深度聚合后端
const (
	DepthBackendDB    = "db"
	DepthBackendRedis = "redis"
)

// NewDepthAggregator 按配置选择深度聚合后端，启动时解析一次
func NewDepthAggregator(backend string, db *gorm.DB, c *cache.RedisCache, logger *slog.Logger) (domain.DepthAggregator, error) {
	switch backend {
	case DepthBackendDB:
		return NewDBDepthAggregator(db), nil
	case DepthBackendRedis:
		return NewRedisDepthAggregator(c, logger), nil
	default:
		return nil, fmt.Errorf("unknown depth aggregation backend %q", backend)
	}
}
