package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/peiko-en/exchange/internal/matching/domain"
)

// OrderBook 订单簿门面。按（交易对, 方向）懒加载并常驻 restingLedger 实例。
// 同一交易对的撮合在外部串行化，map 本身用锁保护以支持跨交易对并行。
type OrderBook struct {
	index  domain.OrderIndexRepository
	orders domain.OrderRepository
	logger *slog.Logger

	mu      sync.Mutex
	ledgers map[string]*restingLedger
}

func NewOrderBook(index domain.OrderIndexRepository, orders domain.OrderRepository, logger *slog.Logger) *OrderBook {
	return &OrderBook{
		index:   index,
		orders:  orders,
		logger:  logger,
		ledgers: make(map[string]*restingLedger),
	}
}

// TakeMakerOrders 取指定方向的挂单账本
func (b *OrderBook) TakeMakerOrders(pair *domain.Pair, side domain.OrderSide) *restingLedger {
	key := fmt.Sprintf("%d:%s", pair.ID, side)

	b.mu.Lock()
	defer b.mu.Unlock()

	ledger, ok := b.ledgers[key]
	if !ok {
		ledger = newRestingLedger(pair, side, b.index, b.orders, b.logger)
		b.ledgers[key] = ledger
	}
	return ledger
}

// Add 挂单入账本
func (b *OrderBook) Add(ctx context.Context, order *domain.Order) (bool, error) {
	return b.TakeMakerOrders(order.Pair, order.Side).Add(ctx, order)
}

// Remove 从账本摘单
func (b *OrderBook) Remove(ctx context.Context, order *domain.Order) error {
	return b.TakeMakerOrders(order.Pair, order.Side).Remove(ctx, order.ID)
}

// RemoveBatch 批量摘单，订单须属于同一交易对。批次可以混合买卖两侧，
// 按方向分组后逐侧摘除
func (b *OrderBook) RemoveBatch(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	bySide := make(map[domain.OrderSide][]uint64, 2)
	for _, o := range orders {
		bySide[o.Side] = append(bySide[o.Side], o.ID)
	}

	pair := orders[0].Pair
	for side, ids := range bySide {
		if err := b.TakeMakerOrders(pair, side).Remove(ctx, ids...); err != nil {
			return err
		}
	}
	return nil
}
