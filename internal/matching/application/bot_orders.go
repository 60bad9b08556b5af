package application

import (
	"context"
	"log/slog"

	"github.com/peiko-en/exchange/internal/matching/domain"
)

// BotOrderCloser 做市机器人挂单的批量清理。
// 零成交的订单物理删除不留痕，有成交的按撤单保留历史。
type BotOrderCloser struct {
	trading *Trading
	orders  domain.OrderRepository
	bots    domain.BotOrderStorage
	logger  *slog.Logger
}

func NewBotOrderCloser(trading *Trading, orders domain.OrderRepository, bots domain.BotOrderStorage, logger *slog.Logger) *BotOrderCloser {
	return &BotOrderCloser{
		trading: trading,
		orders:  orders,
		bots:    bots,
		logger:  logger.With("module", "bot_order_closer"),
	}
}

// Close 清理一批机器人订单。订单须属于同一交易对。
func (c *BotOrderCloser) Close(ctx context.Context, pair *domain.Pair, orderIDs []uint64) error {
	if len(orderIDs) == 0 {
		return nil
	}
	defer c.cleanupStorage(ctx, orderIDs)

	orders, err := c.orders.FindByIDs(ctx, orderIDs)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return nil
	}

	var resting []*domain.Order
	var changed bool
	for _, order := range orders {
		order.Pair = pair

		if order.IsCompleted() {
			continue
		}

		if order.Status == domain.StatusOpen && order.CompletedQuantity().IsZero() {
			if err := c.orders.Delete(ctx, order.ID); err != nil {
				c.logger.ErrorContext(ctx, "delete bot order failed", "order_id", order.ID, "error", err)
				continue
			}
		} else {
			order.Cancel()
			if err := c.orders.Save(ctx, order); err != nil {
				c.logger.ErrorContext(ctx, "cancel bot order failed", "order_id", order.ID, "error", err)
				continue
			}
		}

		resting = append(resting, order)
		changed = true
	}

	if len(resting) > 0 {
		c.trading.RemoveBatchFromOrderBook(ctx, resting)
	}
	if changed {
		c.trading.OrderBookChangeEvent(ctx, pair)
	}
	return nil
}

func (c *BotOrderCloser) cleanupStorage(ctx context.Context, orderIDs []uint64) {
	for _, id := range orderIDs {
		if err := c.bots.Remove(ctx, id); err != nil {
			c.logger.WarnContext(ctx, "remove bot order from storage failed", "order_id", id, "error", err)
		}
	}
}
