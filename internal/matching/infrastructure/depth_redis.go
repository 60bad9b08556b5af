package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/peiko-en/exchange/internal/matching/domain"
	"github.com/peiko-en/exchange/pkg/cache"
)

// depthMember 有序集合成员，JSON 编码。分值为按计价精度折算的整数价格，
// 同一价位始终只应存在一个成员。
type depthMember struct {
	Price       decimal.Decimal `json:"p"`
	Quantity    decimal.Decimal `json:"q"`
	QuantityMax decimal.Decimal `json:"qm"`
	FillPercent int64           `json:"pr"`
	Volume      decimal.Decimal `json:"v"`
}

// RedisDepthAggregator 低延迟深度聚合。
// 读改写序列不加锁，normalize 负责清理最优价与成交价之间的残留成员；
// 残留成员短暂存在是可容忍的。
type RedisDepthAggregator struct {
	cache  *cache.RedisCache
	logger *slog.Logger
}

func NewRedisDepthAggregator(c *cache.RedisCache, logger *slog.Logger) domain.DepthAggregator {
	return &RedisDepthAggregator{
		cache:  c,
		logger: logger.With("module", "redis_depth"),
	}
}

func depthKey(pair *domain.Pair, side domain.OrderSide) string {
	return fmt.Sprintf("depth:%d:%s", pair.ID, side)
}

func (a *RedisDepthAggregator) Add(ctx context.Context, pair *domain.Pair, side domain.OrderSide, price, quantity decimal.Decimal) error {
	member, err := a.takeByPrice(ctx, pair, side, price)
	if err != nil {
		return err
	}

	member.Quantity = member.Quantity.Add(quantity).RoundDown(pair.BasePrecision)
	member.QuantityMax = member.QuantityMax.Add(quantity).RoundDown(pair.BasePrecision)
	return a.set(ctx, pair, side, member)
}

func (a *RedisDepthAggregator) Sub(ctx context.Context, pair *domain.Pair, side domain.OrderSide, price, quantity decimal.Decimal, normalize bool) error {
	member, err := a.takeByPrice(ctx, pair, side, price)
	if err != nil {
		return err
	}

	member.Quantity = member.Quantity.Sub(quantity).RoundDown(pair.BasePrecision)
	if member.Quantity.IsPositive() {
		if err := a.set(ctx, pair, side, member); err != nil {
			return err
		}
	}

	if normalize {
		return a.normalize(ctx, pair, side, price)
	}
	return nil
}

func (a *RedisDepthAggregator) Get(ctx context.Context, pair *domain.Pair, side domain.OrderSide, limit, offset int64) ([]domain.DepthLevel, error) {
	raw, err := a.page(ctx, pair, side, offset, offset+limit-1)
	if err != nil {
		return nil, err
	}

	levels := make([]domain.DepthLevel, 0, len(raw))
	for _, item := range raw {
		member, err := decodeMember(item)
		if err != nil {
			a.logger.WarnContext(ctx, "skip malformed depth member", "key", depthKey(pair, side), "error", err)
			continue
		}
		levels = append(levels, domain.DepthLevel{
			Price:       member.Price,
			Quantity:    member.Quantity,
			QuantityMax: member.QuantityMax,
		})
	}
	return levels, nil
}

func (a *RedisDepthAggregator) GetByPrice(ctx context.Context, pair *domain.Pair, side domain.OrderSide, price decimal.Decimal) (*domain.DepthLevel, error) {
	raw, err := a.rawByPrice(ctx, pair, side, price)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}

	member, err := decodeMember(raw)
	if err != nil {
		return nil, err
	}
	level := domain.DepthLevel{Price: member.Price, Quantity: member.Quantity, QuantityMax: member.QuantityMax}
	return &level, nil
}

func (a *RedisDepthAggregator) GetRangePrices(ctx context.Context, pair *domain.Pair, side domain.OrderSide, from, to decimal.Decimal) ([]domain.DepthLevel, error) {
	raw, err := a.rawRange(ctx, pair, side, from, to)
	if err != nil {
		return nil, err
	}

	levels := make([]domain.DepthLevel, 0, len(raw))
	for _, item := range raw {
		member, err := decodeMember(item)
		if err != nil {
			continue
		}
		levels = append(levels, domain.DepthLevel{
			Price:       member.Price,
			Quantity:    member.Quantity,
			QuantityMax: member.QuantityMax,
		})
	}
	return levels, nil
}

func (a *RedisDepthAggregator) Clear(ctx context.Context, pair *domain.Pair, side domain.OrderSide) error {
	return a.cache.Delete(ctx, depthKey(pair, side))
}

// takeByPrice 取出并摘除指定价位的成员；不存在时返回零值成员，
// 调用方累加后重新写入
func (a *RedisDepthAggregator) takeByPrice(ctx context.Context, pair *domain.Pair, side domain.OrderSide, price decimal.Decimal) (depthMember, error) {
	raw, err := a.rawByPrice(ctx, pair, side, price)
	if err != nil {
		return depthMember{}, err
	}
	if raw == "" {
		return depthMember{Price: price}, nil
	}

	if err := a.cache.ZRem(ctx, depthKey(pair, side), raw); err != nil {
		return depthMember{}, err
	}

	member, err := decodeMember(raw)
	if err != nil {
		return depthMember{Price: price}, nil
	}
	return member, nil
}

func (a *RedisDepthAggregator) rawByPrice(ctx context.Context, pair *domain.Pair, side domain.OrderSide, price decimal.Decimal) (string, error) {
	score := strconv.FormatInt(pair.PriceScore(price), 10)
	items, err := a.cache.ZRangeByScore(ctx, depthKey(pair, side), score, score, 0, 1)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", nil
	}
	return items[0], nil
}

func (a *RedisDepthAggregator) set(ctx context.Context, pair *domain.Pair, side domain.OrderSide, member depthMember) error {
	if !member.Quantity.IsPositive() {
		return nil
	}

	level := domain.DepthLevel{Quantity: member.Quantity, QuantityMax: member.QuantityMax}
	member.FillPercent = level.FillPercent()
	member.Volume = member.Quantity.Mul(member.Price).RoundDown(pair.QuotePrecision)

	payload, err := json.Marshal(member)
	if err != nil {
		return err
	}
	return a.cache.ZAdd(ctx, depthKey(pair, side), redis.Z{
		Score:  float64(pair.PriceScore(member.Price)),
		Member: string(payload),
	})
}

// normalize 清掉卡在当前最优价与成交价之间的残留成员。
// 区间内只有最后一个（成交价自身）是合法的。
func (a *RedisDepthAggregator) normalize(ctx context.Context, pair *domain.Pair, side domain.OrderSide, price decimal.Decimal) error {
	best, err := a.page(ctx, pair, side, 0, 0)
	if err != nil || len(best) == 0 {
		return err
	}

	member, err := decodeMember(best[0])
	if err != nil {
		return err
	}
	if member.Price.Equal(price) || member.Price.IsZero() {
		return nil
	}

	stuck, err := a.rawRange(ctx, pair, side, member.Price, price)
	if err != nil {
		return err
	}
	if len(stuck) < 2 {
		return nil
	}

	removable := make([]any, 0, len(stuck)-1)
	for _, item := range stuck[:len(stuck)-1] {
		removable = append(removable, item)
	}
	a.logger.WarnContext(ctx, "normalize stuck depth members",
		"key", depthKey(pair, side), "count", len(removable))
	return a.cache.ZRem(ctx, depthKey(pair, side), removable...)
}

// page 按撮合优先级取下标区间：买盘分值降序，卖盘升序
func (a *RedisDepthAggregator) page(ctx context.Context, pair *domain.Pair, side domain.OrderSide, start, stop int64) ([]string, error) {
	if side == domain.SideBuy {
		return a.cache.ZRevRange(ctx, depthKey(pair, side), start, stop)
	}
	return a.cache.ZRange(ctx, depthKey(pair, side), start, stop)
}

// rawRange 按优先级方向取 from 到 to 的原始成员
func (a *RedisDepthAggregator) rawRange(ctx context.Context, pair *domain.Pair, side domain.OrderSide, from, to decimal.Decimal) ([]string, error) {
	fromScore := strconv.FormatInt(pair.PriceScore(from), 10)
	toScore := strconv.FormatInt(pair.PriceScore(to), 10)

	if side == domain.SideBuy {
		return a.cache.ZRevRangeByScore(ctx, depthKey(pair, side), fromScore, toScore, 0, 0)
	}
	return a.cache.ZRangeByScore(ctx, depthKey(pair, side), fromScore, toScore, 0, 0)
}

func decodeMember(raw string) (depthMember, error) {
	var member depthMember
	if err := json.Unmarshal([]byte(raw), &member); err != nil {
		return depthMember{}, err
	}
	return member, nil
}
