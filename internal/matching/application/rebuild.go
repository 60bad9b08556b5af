package application

import (
	"context"
	"log/slog"

	"github.com/peiko-en/exchange/internal/matching/domain"
)

// rebuildChunkSize 重建时每批流式装载的订单数
const rebuildChunkSize = 2000

// BookRebuilder 订单簿一致性兜底：深度聚合与挂单索引都可以从订单表
// 整体重建。重建期间订单簿继续提供读服务，允许短暂不精确。
type BookRebuilder struct {
	agg    domain.DepthAggregator
	index  domain.OrderIndexRepository
	orders domain.OrderRepository
	deals  domain.DealRepository
	pairs  domain.PairRepository
	bots   domain.BotOrderStorage
	logger *slog.Logger

	// liquidityBotID 做市机器人用户 id，重建时回填机器人订单集合
	liquidityBotID uint64
}

func NewBookRebuilder(
	agg domain.DepthAggregator,
	index domain.OrderIndexRepository,
	orders domain.OrderRepository,
	deals domain.DealRepository,
	pairs domain.PairRepository,
	bots domain.BotOrderStorage,
	liquidityBotID uint64,
	logger *slog.Logger,
) *BookRebuilder {
	return &BookRebuilder{
		agg:            agg,
		index:          index,
		orders:         orders,
		deals:          deals,
		pairs:          pairs,
		bots:           bots,
		liquidityBotID: liquidityBotID,
		logger:         logger.With("module", "book_rebuilder"),
	}
}

// Recalculate 只重建深度聚合：清空后从在途限价单逐侧重放。
// 对已一致的订单簿执行是幂等的。
func (r *BookRebuilder) Recalculate(ctx context.Context, pair *domain.Pair) error {
	for _, side := range []domain.OrderSide{domain.SideSell, domain.SideBuy} {
		if err := r.agg.Clear(ctx, pair, side); err != nil {
			return err
		}

		err := r.walkInWork(ctx, pair, side, func(order *domain.Order) error {
			return r.agg.Add(ctx, pair, side, order.Price, order.Quantity)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Sync 全量重建：深度聚合、两层挂单索引与机器人订单集合一并重放
func (r *BookRebuilder) Sync(ctx context.Context, pair *domain.Pair) error {
	for _, side := range []domain.OrderSide{domain.SideSell, domain.SideBuy} {
		if err := r.agg.Clear(ctx, pair, side); err != nil {
			return err
		}
		if err := r.index.Clear(ctx, pair, side); err != nil {
			return err
		}

		var total, botOrders int
		err := r.walkInWork(ctx, pair, side, func(order *domain.Order) error {
			if err := r.agg.Add(ctx, pair, side, order.Price, order.Quantity); err != nil {
				return err
			}
			entry := domain.IndexEntry{OrderID: order.ID, Price: order.Price}
			if err := r.index.Insert(ctx, pair, side, entry); err != nil {
				return err
			}

			if r.liquidityBotID > 0 && order.OwnerID == r.liquidityBotID {
				if err := r.bots.Add(ctx, order.ID); err != nil {
					return err
				}
				botOrders++
			}
			total++
			return nil
		})
		if err != nil {
			return err
		}

		r.logger.InfoContext(ctx, "order book side synced",
			"pair", pair.Symbol(), "side", side, "orders", total, "bot_orders", botOrders)
	}

	r.recoverLastPrice(ctx, pair)
	return nil
}

// recoverLastPrice 交易对失忆时从成交流水恢复最新价
func (r *BookRebuilder) recoverLastPrice(ctx context.Context, pair *domain.Pair) {
	if !pair.LastPrice.IsZero() {
		return
	}

	price, err := r.deals.LastPrice(ctx, pair.ID)
	if err != nil {
		r.logger.ErrorContext(ctx, "recover last price failed", "pair", pair.Symbol(), "error", err)
		return
	}
	if !price.IsPositive() {
		return
	}

	pair.LastPrice = price
	if err := r.pairs.UpdateLastPrice(ctx, pair.ID, price); err != nil {
		r.logger.ErrorContext(ctx, "persist recovered last price failed", "pair", pair.Symbol(), "error", err)
	}
}

// walkInWork 按撮合优先级流式遍历在途限价单
func (r *BookRebuilder) walkInWork(ctx context.Context, pair *domain.Pair, side domain.OrderSide, fn func(*domain.Order) error) error {
	var afterID uint64
	for {
		orders, err := r.orders.FindInWork(ctx, pair.ID, side, afterID, rebuildChunkSize)
		if err != nil {
			return err
		}
		if len(orders) == 0 {
			return nil
		}

		for _, order := range orders {
			if order.IsMarket() {
				continue
			}
			if err := fn(order); err != nil {
				return err
			}
		}

		afterID = orders[len(orders)-1].ID
		if len(orders) < rebuildChunkSize {
			return nil
		}
	}
}
