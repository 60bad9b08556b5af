package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/peiko-en/exchange/internal/matching/domain"
)

type TradingTestSuite struct {
	suite.Suite
	ctx context.Context
	f   *fixture
}

func TestTradingTestSuite(t *testing.T) {
	suite.Run(t, &TradingTestSuite{})
}

func (s *TradingTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.f = newFixture()
}

func (s *TradingTestSuite) taker(order *domain.Order) *domain.Order {
	order.Pair = s.f.pair
	s.f.orders.byID[order.ID] = order
	return order
}

// 市价卖 6，吃同价两个买单：先挂的先吃满，后挂的吃剩余
func (s *TradingTestSuite) TestMarketSellSweepsSamePriceBidsInOrder() {
	s.f.seedMaker(s.ctx, limitOrder(1, 11, domain.SideBuy, "10", "5"))
	s.f.seedMaker(s.ctx, limitOrder(2, 12, domain.SideBuy, "10", "3"))
	taker := s.taker(marketOrder(3, 100, domain.SideSell, "6"))

	s.Require().NoError(s.f.trading.Trade(s.ctx, taker))

	s.Require().Len(s.f.publisher.trades, 2)
	s.True(s.f.publisher.trades[0].Quantity.Equal(dec("5")))
	s.True(s.f.publisher.trades[1].Quantity.Equal(dec("1")))
	s.True(s.f.publisher.trades[0].Price.Equal(dec("10")))

	first := s.f.orders.byID[1]
	second := s.f.orders.byID[2]
	s.Equal(domain.StatusFilled, first.Status)
	s.True(second.Quantity.Equal(dec("2")))
	s.Equal(domain.StatusFilled, taker.Status)

	// 吃满的买单从账本摘除，剩余的保留
	var rest []uint64
	for _, e := range s.f.index.table[domain.SideBuy] {
		rest = append(rest, e.OrderID)
	}
	s.Equal([]uint64{2}, rest)

	// 深度净扣成交量
	level, err := s.f.depth.GetByPrice(s.ctx, s.f.pair, domain.SideBuy, dec("10"))
	s.Require().NoError(err)
	s.Require().NotNil(level)
	s.True(level.Quantity.Equal(dec("2")))

	// 卖方两笔货款入账
	s.True(s.f.wallets.increased(100, "USDT").Equal(dec("60")))
	s.True(s.f.wallets.increased(11, "BTC").Equal(dec("5")))
	s.True(s.f.wallets.increased(12, "BTC").Equal(dec("1")))
}

// 数量守恒：双方成交量相等，买卖两条成交记录互为对手
func (s *TradingTestSuite) TestQuantityConservation() {
	s.f.seedMaker(s.ctx, limitOrder(1, 11, domain.SideSell, "10", "4"))
	taker := s.taker(limitOrder(2, 100, domain.SideBuy, "10", "4"))

	s.Require().NoError(s.f.trading.Trade(s.ctx, taker))

	s.Require().Len(s.f.deals.created, 2)
	buyRow, sellRow := s.f.deals.created[0], s.f.deals.created[1]
	s.Equal(domain.SideBuy, buyRow.Side)
	s.Equal(domain.SideSell, sellRow.Side)
	s.True(buyRow.Quantity.Equal(sellRow.Quantity))
	s.Equal(buyRow.OrderID, sellRow.CounterID)
	s.Equal(sellRow.OrderID, buyRow.CounterID)

	maker := s.f.orders.byID[1]
	s.True(maker.CompletedQuantity().Equal(taker.CompletedQuantity()))
}

// 限价买单余量挂回账本与深度
func (s *TradingTestSuite) TestLimitBuyRestsRemainder() {
	s.f.seedMaker(s.ctx, limitOrder(1, 11, domain.SideSell, "10", "2"))
	taker := s.taker(limitOrder(2, 100, domain.SideBuy, "10", "5"))

	s.Require().NoError(s.f.trading.Trade(s.ctx, taker))

	s.Equal(domain.StatusPartiallyFilled, taker.Status)
	s.True(taker.Quantity.Equal(dec("3")))

	s.Require().Len(s.f.index.table[domain.SideBuy], 1)
	s.Equal(uint64(2), s.f.index.table[domain.SideBuy][0].OrderID)

	level, err := s.f.depth.GetByPrice(s.ctx, s.f.pair, domain.SideBuy, dec("10"))
	s.Require().NoError(err)
	s.Require().NotNil(level)
	s.True(level.Quantity.Equal(dec("3")))
}

// 限价买单不吃高于限价的卖单
func (s *TradingTestSuite) TestLimitBuyRespectsPriceBound() {
	s.f.seedMaker(s.ctx, limitOrder(1, 11, domain.SideSell, "11", "1"))
	taker := s.taker(limitOrder(2, 100, domain.SideBuy, "10", "1"))

	s.Require().NoError(s.f.trading.Trade(s.ctx, taker))

	s.Empty(s.f.deals.created)
	s.True(s.f.orders.byID[1].Quantity.Equal(dec("1")))
	s.True(taker.Quantity.Equal(dec("1")))

	// 没成交，整单挂回自己一侧
	s.Require().Len(s.f.index.table[domain.SideBuy], 1)
	s.Equal(uint64(2), s.f.index.table[domain.SideBuy][0].OrderID)
}

// 市价买单受预留资金约束，资金吃完即收尾
func (s *TradingTestSuite) TestMarketBuyCappedByReservedFunds() {
	s.f.seedMaker(s.ctx, limitOrder(1, 11, domain.SideSell, "100", "10"))
	taker := s.taker(marketOrder(2, 100, domain.SideBuy, "10"))
	taker.ReservedAmount = dec("250")

	s.Require().NoError(s.f.trading.Trade(s.ctx, taker))

	s.Require().Len(s.f.deals.created, 2)
	s.True(s.f.deals.created[0].Quantity.Equal(dec("2.5")))
	s.True(taker.ReservedAmount.IsZero())
	s.Equal(domain.StatusPartiallyFilled, taker.Status)
	s.NotNil(taker.FinishedAt)
	s.True(s.f.orders.byID[1].Quantity.Equal(dec("7.5")))
	s.True(s.f.wallets.increased(11, "USDT").Equal(dec("250")))
}

// 已被并发撤掉的挂单跳过并顺手摘除
func (s *TradingTestSuite) TestSkipsStaleMaker() {
	stale := limitOrder(1, 11, domain.SideBuy, "11", "5")
	stale.Status = domain.StatusCancelled
	s.f.seedMaker(s.ctx, stale)
	s.f.seedMaker(s.ctx, limitOrder(2, 12, domain.SideBuy, "10", "5"))
	taker := s.taker(marketOrder(3, 100, domain.SideSell, "5"))

	s.Require().NoError(s.f.trading.Trade(s.ctx, taker))

	s.Require().Len(s.f.deals.created, 2)
	s.Equal(uint64(2), s.f.deals.created[0].OrderID)
	s.Empty(s.f.index.table[domain.SideBuy])
}

// 市价单零成交按撤单收尾
func (s *TradingTestSuite) TestMarketOrderWithoutLiquidityCancelled() {
	taker := s.taker(marketOrder(1, 100, domain.SideSell, "5"))

	s.Require().NoError(s.f.trading.Trade(s.ctx, taker))

	s.Equal(domain.StatusCancelled, taker.Status)
	s.Empty(s.f.deals.created)
	s.Require().Len(s.f.publisher.books, 1)
	s.Equal(domain.StatusCancelled, s.f.publisher.books[0].Status)

	// 冻结的基础资产整单解冻
	s.Require().Len(s.f.wallets.ops, 1)
	s.Equal("unfreeze", s.f.wallets.ops[0].kind)
	s.Equal("BTC", s.f.wallets.ops[0].asset)
	s.True(s.f.wallets.ops[0].amount.Equal(dec("5")))
}

// 市价买单收尾后剩余预留资金解冻
func (s *TradingTestSuite) TestMarketBuyResidualReservedUnfrozen() {
	s.f.seedMaker(s.ctx, limitOrder(1, 11, domain.SideSell, "10", "1"))
	taker := s.taker(marketOrder(2, 100, domain.SideBuy, "1"))
	taker.ReservedAmount = dec("100")

	s.Require().NoError(s.f.trading.Trade(s.ctx, taker))

	var unfrozen []walletOp
	for _, op := range s.f.wallets.ops {
		if op.kind == "unfreeze" {
			unfrozen = append(unfrozen, op)
		}
	}
	s.Require().Len(unfrozen, 1)
	s.Equal(uint64(100), unfrozen[0].ownerID)
	s.Equal("USDT", unfrozen[0].asset)
	s.True(unfrozen[0].amount.Equal(dec("90")))
}

// 价格未动时不追加价格点也不更新最新价，但成交量仍要落史并重播行情
func (s *TradingTestSuite) TestUnchangedPriceStillCarriesVolume() {
	s.f.pair.LastPrice = dec("10")
	s.f.seedMaker(s.ctx, limitOrder(1, 11, domain.SideSell, "10", "4"))
	taker := s.taker(marketOrder(2, 100, domain.SideBuy, "4"))
	taker.ReservedAmount = dec("100")

	s.Require().NoError(s.f.trading.Trade(s.ctx, taker))

	s.Equal(0, s.f.pairs.updates)
	s.Empty(s.f.prices.points)

	s.Require().Len(s.f.prices.volumeAdds, 1)
	s.True(s.f.prices.volumeAdds[0].Equal(dec("4")))

	s.Require().Len(s.f.publisher.prices, 1)
	s.True(s.f.publisher.prices[0].Price.Equal(dec("10")))
	s.True(s.f.publisher.prices[0].Volume.Equal(dec("4")))
}

// 价格变化时追加带成交量的价格点、更新最新价并广播
func (s *TradingTestSuite) TestPriceChangeAppendsHistoryPoint() {
	s.f.pair.LastPrice = dec("10")
	s.f.seedMaker(s.ctx, limitOrder(1, 11, domain.SideSell, "12", "1"))
	taker := s.taker(marketOrder(2, 100, domain.SideBuy, "1"))
	taker.ReservedAmount = dec("100")

	s.Require().NoError(s.f.trading.Trade(s.ctx, taker))

	s.Equal(1, s.f.pairs.updates)
	s.True(s.f.pairs.lastPrice.Equal(dec("12")))
	s.Empty(s.f.prices.volumeAdds)

	s.Require().Len(s.f.prices.points, 1)
	s.True(s.f.prices.points[0].price.Equal(dec("12")))
	s.True(s.f.prices.points[0].volume.Equal(dec("1")))

	s.Require().Len(s.f.publisher.prices, 1)
	s.True(s.f.publisher.prices[0].Price.Equal(dec("12")))
	s.True(s.f.publisher.prices[0].Volume.Equal(dec("1")))
}

// 非机器人用户的成交量按 BTC 折算批量落库
func (s *TradingTestSuite) TestUserVolumesAccumulated() {
	s.f.pair.BtcRate = dec("0.5")
	s.f.seedMaker(s.ctx, limitOrder(1, 11, domain.SideSell, "10", "4"))
	taker := s.taker(limitOrder(2, 100, domain.SideBuy, "10", "4"))

	s.Require().NoError(s.f.trading.Trade(s.ctx, taker))

	s.Require().Len(s.f.users.volumes, 2)
	for _, v := range s.f.users.volumes {
		s.True(v.Volume.Equal(dec("2")))
	}
}

// BTC 折算成交量向下取整到 8 位
func (s *TradingTestSuite) TestUserVolumeBtcPrecision() {
	s.f.pair.BtcRate = dec("0.333333333333")
	s.f.seedMaker(s.ctx, limitOrder(1, 11, domain.SideSell, "10", "1"))
	taker := s.taker(limitOrder(2, 100, domain.SideBuy, "10", "1"))

	s.Require().NoError(s.f.trading.Trade(s.ctx, taker))

	s.Require().Len(s.f.users.volumes, 2)
	for _, v := range s.f.users.volumes {
		s.True(v.Volume.Equal(dec("0.33333333")), "got %s", v.Volume)
	}
}

// 机器人的成交量不统计
func (s *TradingTestSuite) TestBotVolumesSkipped() {
	maker := limitOrder(1, 11, domain.SideSell, "10", "4")
	maker.Owner.IsBot = true
	s.f.seedMaker(s.ctx, maker)
	taker := s.taker(limitOrder(2, 100, domain.SideBuy, "10", "4"))

	s.Require().NoError(s.f.trading.Trade(s.ctx, taker))

	s.Require().Len(s.f.users.volumes, 1)
	s.Equal(uint64(100), s.f.users.volumes[0].OwnerID)
}

// 撤单只对等待撤单状态生效
func (s *TradingTestSuite) TestCancelRequiresPendingState() {
	order := limitOrder(1, 11, domain.SideBuy, "10", "5")
	s.f.seedMaker(s.ctx, order)

	s.Require().NoError(s.f.trading.Cancel(s.ctx, order))
	s.Equal(domain.StatusOpen, order.Status)
	s.Len(s.f.index.table[domain.SideBuy], 1)
	s.Empty(s.f.wallets.ops)

	order.Status = domain.StatusPendingCancel
	s.Require().NoError(s.f.trading.Cancel(s.ctx, order))
	s.Equal(domain.StatusCancelled, order.Status)
	s.Empty(s.f.index.table[domain.SideBuy])

	level, err := s.f.depth.GetByPrice(s.ctx, s.f.pair, domain.SideBuy, dec("10"))
	s.Require().NoError(err)
	s.Nil(level)

	// 剩余占用的计价资产解冻：5 × 10
	s.Require().Len(s.f.wallets.ops, 1)
	s.Equal("unfreeze", s.f.wallets.ops[0].kind)
	s.Equal(uint64(11), s.f.wallets.ops[0].ownerID)
	s.Equal("USDT", s.f.wallets.ops[0].asset)
	s.True(s.f.wallets.ops[0].amount.Equal(dec("50")))
}

// 物理删除同时摘账本与深度
func (s *TradingTestSuite) TestRemovePurgesBookAndDepth() {
	order := limitOrder(1, 11, domain.SideSell, "10", "5")
	s.f.seedMaker(s.ctx, order)

	s.Require().NoError(s.f.trading.Remove(s.ctx, order))

	s.Equal([]uint64{1}, s.f.orders.deleted)
	s.Empty(s.f.index.table[domain.SideSell])
	level, err := s.f.depth.GetByPrice(s.ctx, s.f.pair, domain.SideSell, dec("10"))
	s.Require().NoError(err)
	s.Nil(level)
}
