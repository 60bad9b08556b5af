package application

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/peiko-en/exchange/internal/matching/domain"
)

// estimationPageSize 估算走深度的分页大小
const estimationPageSize = 20

// MarketQuantityEstimation 预算换数量的估算结果
type MarketQuantityEstimation struct {
	// Total 输入预算（计价资产）
	Total decimal.Decimal
	// Quantity 预算可买到的数量
	Quantity decimal.Decimal
	// ScannedQuantity 扫过的深度总量，用于判断市场余量
	ScannedQuantity decimal.Decimal
	// LastUsedPrice 最后触及的价位
	LastUsedPrice decimal.Decimal
	// RestTotal 未花出去的预算残余
	RestTotal decimal.Decimal
}

// HaveResidue 是否有花不出去的预算
func (e *MarketQuantityEstimation) HaveResidue() bool {
	return e.RestTotal.IsPositive()
}

// HasMoreQuantityOnMarket 市场上是否还有超出本次估算的深度
func (e *MarketQuantityEstimation) HasMoreQuantityOnMarket() bool {
	return e.ScannedQuantity.GreaterThan(e.Quantity)
}

// UsedTotal 实际花掉的预算
func (e *MarketQuantityEstimation) UsedTotal() decimal.Decimal {
	return e.Total.Sub(e.RestTotal)
}

// OrderEstimationService 只读的深度估算。从最优价向外分页扫描，
// 目标满足即停，永不跨页重复消费同一价位。深度不足是正常结果，不是错误。
type OrderEstimationService struct {
	agg  domain.DepthAggregator
	pair *domain.Pair
}

func NewOrderEstimationService(agg domain.DepthAggregator, pair *domain.Pair) *OrderEstimationService {
	return &OrderEstimationService{agg: agg, pair: pair}
}

// QuantityFromTotal 给定计价资产预算能买到多少数量。
// 整档全吃；预算在档内耗尽时切成部分档：数量 = 余额 ÷ 档价向下取整到
// 数量精度，花费按计价精度向上取整，保证不少收。
func (s *OrderEstimationService) QuantityFromTotal(ctx context.Context, total decimal.Decimal, side domain.OrderSide) (*MarketQuantityEstimation, error) {
	est := &MarketQuantityEstimation{Total: total}
	leftTotal := total
	quantity := decimal.Zero

	var offset int64
	for {
		levels, err := s.agg.Get(ctx, s.pair, side, estimationPageSize, offset)
		if err != nil {
			return nil, err
		}
		if len(levels) == 0 {
			break
		}

		for _, level := range levels {
			est.ScannedQuantity = est.ScannedQuantity.Add(level.Quantity)

			levelVolume := level.Quantity.Mul(level.Price).RoundDown(s.pair.QuotePrecision)

			var interimQuantity, interimTotal decimal.Decimal
			if levelVolume.GreaterThan(leftTotal) {
				interimQuantity = leftTotal.Div(level.Price).RoundDown(s.pair.BasePrecision)
				interimTotal = interimQuantity.Mul(level.Price).RoundUp(s.pair.QuotePrecision)
			} else {
				interimQuantity = level.Quantity
				interimTotal = levelVolume
			}

			if interimQuantity.IsZero() {
				break
			}

			leftTotal = leftTotal.Sub(interimTotal).RoundDown(s.pair.QuotePrecision)
			quantity = quantity.Add(interimQuantity).RoundDown(s.pair.BasePrecision)
			est.LastUsedPrice = level.Price
		}

		if !leftTotal.IsPositive() {
			break
		}
		offset += int64(len(levels))
	}

	est.Quantity = quantity
	est.RestTotal = leftTotal
	return est, nil
}

// FindOutCost 买/卖指定数量需要多少计价资产。
// 深度先于数量耗尽时返回零，表示流动性不足。
func (s *OrderEstimationService) FindOutCost(ctx context.Context, quantity decimal.Decimal, side domain.OrderSide) (decimal.Decimal, error) {
	cost := decimal.Zero
	leftQuantity := quantity

	var offset int64
	for {
		levels, err := s.agg.Get(ctx, s.pair, side, estimationPageSize, offset)
		if err != nil {
			return decimal.Zero, err
		}
		if len(levels) == 0 {
			return decimal.Zero, nil
		}

		for _, level := range levels {
			interimQuantity := level.Quantity
			if interimQuantity.GreaterThan(leftQuantity) {
				interimQuantity = leftQuantity
			}

			leftQuantity = leftQuantity.Sub(interimQuantity).RoundDown(s.pair.BasePrecision)
			cost = cost.Add(interimQuantity.Mul(level.Price).RoundUp(s.pair.QuotePrecision))
		}

		if !leftQuantity.IsPositive() {
			break
		}
		offset += int64(len(levels))
	}

	return cost, nil
}

// CheckQuantityAvailability 深度能否吃下指定数量
func (s *OrderEstimationService) CheckQuantityAvailability(ctx context.Context, quantity decimal.Decimal, side domain.OrderSide) (bool, error) {
	leftQuantity := quantity

	var offset int64
	for {
		levels, err := s.agg.Get(ctx, s.pair, side, estimationPageSize, offset)
		if err != nil {
			return false, err
		}
		if len(levels) == 0 {
			return false, nil
		}

		for _, level := range levels {
			interimQuantity := level.Quantity
			if interimQuantity.GreaterThan(leftQuantity) {
				interimQuantity = leftQuantity
			}
			leftQuantity = leftQuantity.Sub(interimQuantity).RoundDown(s.pair.BasePrecision)
		}

		if !leftQuantity.IsPositive() {
			break
		}
		offset += int64(len(levels))
	}

	return true, nil
}
