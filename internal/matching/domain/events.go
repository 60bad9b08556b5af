package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TradePrintEvent 成交播报
type TradePrintEvent struct {
	PairSymbol string          `json:"pair_symbol"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	TakerSide  OrderSide       `json:"taker_side"`
	DealtAt    time.Time       `json:"dealt_at"`
}

// PriceUpdateEvent 最新价与累计成交量播报。价格未动时也会发布，携带增量成交量
type PriceUpdateEvent struct {
	PairSymbol string          `json:"pair_symbol"`
	Price      decimal.Decimal `json:"price"`
	Volume     decimal.Decimal `json:"volume"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// DepthChangedEvent 一轮撮合结束后的深度变动通知
type DepthChangedEvent struct {
	PairSymbol string `json:"pair_symbol"`
}

// OrderBookChangedEvent 订单状态落库后的订单簿变动通知
type OrderBookChangedEvent struct {
	PairSymbol string      `json:"pair_symbol"`
	OrderID    uint64      `json:"order_id"`
	OwnerID    uint64      `json:"owner_id"`
	Status     OrderStatus `json:"status"`
}

// ExternalOrderEvent 机器人订单镜像到外部交易所
type ExternalOrderEvent struct {
	PairSymbol string          `json:"pair_symbol"`
	OrderID    uint64          `json:"order_id"`
	Side       OrderSide       `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// EventPublisher 撮合结果对外广播。实现不得把失败传导回撮合事务。
type EventPublisher interface {
	PublishTradePrint(ctx context.Context, ev TradePrintEvent) error
	PublishPriceUpdate(ctx context.Context, ev PriceUpdateEvent) error
	PublishDepthChanged(ctx context.Context, ev DepthChangedEvent) error
	PublishOrderBookChanged(ctx context.Context, ev OrderBookChangedEvent) error
	PublishExternalOrder(ctx context.Context, ev ExternalOrderEvent) error
}
