package infrastructure

import (
	"context"
	"log/slog"

	"github.com/peiko-en/exchange/internal/matching/domain"
	"github.com/peiko-en/exchange/pkg/idgen"
	"github.com/peiko-en/exchange/pkg/mq"
)

// 行情事件类型标识
const (
	eventTradePrint       = "trade_print"
	eventPriceUpdate      = "price_update"
	eventDepthChanged     = "depth_changed"
	eventOrderBookChanged = "order_book_changed"
)

// marketDataEnvelope 行情消息信封，EventID 供下游去重
type marketDataEnvelope struct {
	EventID int64  `json:"event_id"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// KafkaEventPublisher 撮合事件发布。行情事件走行情主题，
// 外部镜像订单走独立主题。发布即忘，失败由调用方记录。
type KafkaEventPublisher struct {
	producer           *mq.Producer
	idgen              *idgen.Snowflake
	marketDataTopic    string
	externalOrderTopic string
	logger             *slog.Logger
}

func NewKafkaEventPublisher(producer *mq.Producer, gen *idgen.Snowflake, marketDataTopic, externalOrderTopic string, logger *slog.Logger) domain.EventPublisher {
	return &KafkaEventPublisher{
		producer:           producer,
		idgen:              gen,
		marketDataTopic:    marketDataTopic,
		externalOrderTopic: externalOrderTopic,
		logger:             logger.With("module", "event_publisher"),
	}
}

func (p *KafkaEventPublisher) PublishTradePrint(ctx context.Context, ev domain.TradePrintEvent) error {
	return p.publishMarketData(ctx, ev.PairSymbol, eventTradePrint, ev)
}

func (p *KafkaEventPublisher) PublishPriceUpdate(ctx context.Context, ev domain.PriceUpdateEvent) error {
	return p.publishMarketData(ctx, ev.PairSymbol, eventPriceUpdate, ev)
}

func (p *KafkaEventPublisher) PublishDepthChanged(ctx context.Context, ev domain.DepthChangedEvent) error {
	return p.publishMarketData(ctx, ev.PairSymbol, eventDepthChanged, ev)
}

func (p *KafkaEventPublisher) PublishOrderBookChanged(ctx context.Context, ev domain.OrderBookChangedEvent) error {
	return p.publishMarketData(ctx, ev.PairSymbol, eventOrderBookChanged, ev)
}

func (p *KafkaEventPublisher) PublishExternalOrder(ctx context.Context, ev domain.ExternalOrderEvent) error {
	return p.producer.SendMessage(ctx, p.externalOrderTopic, ev.PairSymbol, ev)
}

// publishMarketData 以交易对符号作分区键，同一交易对的行情保序
func (p *KafkaEventPublisher) publishMarketData(ctx context.Context, pairSymbol, eventType string, payload any) error {
	return p.producer.SendMessage(ctx, p.marketDataTopic, pairSymbol, marketDataEnvelope{
		EventID: p.idgen.Generate(),
		Type:    eventType,
		Payload: payload,
	})
}
