package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// DepthLevel 深度聚合中的一个价位
type DepthLevel struct {
	Price decimal.Decimal `json:"price"`
	// Quantity 当前价位剩余数量
	Quantity decimal.Decimal `json:"quantity"`
	// QuantityMax 当前价位历史峰值数量，用于计算消耗百分比
	QuantityMax decimal.Decimal `json:"quantity_max"`
}

// FillPercent 价位被吃掉的百分比：100 - ceil(quantity/quantityMax*100)。
// 峰值为零时返回 0。
func (l DepthLevel) FillPercent() int64 {
	if l.QuantityMax.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	pct := l.Quantity.Div(l.QuantityMax).Mul(decimal.NewFromInt(100)).Ceil().IntPart()
	return 100 - pct
}

// DepthAggregator 盘口深度聚合。两套实现：MySQL 表与 Redis 有序集合。
type DepthAggregator interface {
	// Add 向价位累加数量，峰值同步抬升
	Add(ctx context.Context, pair *Pair, side OrderSide, price, quantity decimal.Decimal) error
	// Sub 从价位扣减数量，归零即删除该价位。
	// normalize 为真时额外清理当前最优价与成交价之间的残留价位。
	Sub(ctx context.Context, pair *Pair, side OrderSide, price, quantity decimal.Decimal, normalize bool) error
	// Get 按优先级取深度：买盘价高优先，卖盘价低优先
	Get(ctx context.Context, pair *Pair, side OrderSide, limit, offset int64) ([]DepthLevel, error)
	// GetByPrice 取指定价位
	GetByPrice(ctx context.Context, pair *Pair, side OrderSide, price decimal.Decimal) (*DepthLevel, error)
	// GetRangePrices 取价格区间内的价位集合
	GetRangePrices(ctx context.Context, pair *Pair, side OrderSide, from, to decimal.Decimal) ([]DepthLevel, error)
	// Clear 清空交易对单侧深度。从在途订单整体重建由 BookRebuilder 驱动：
	// Clear 之后逐单 Add，对已一致的订单簿幂等。
	Clear(ctx context.Context, pair *Pair, side OrderSide) error
}
