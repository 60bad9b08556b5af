package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/peiko-en/exchange/internal/matching/domain"
)

// btcVolumePrecision 用户成交量 BTC 折算精度
const btcVolumePrecision = 8

// Trading 撮合编排器。驱动 taker 对账本的撮合循环，逐对调用结算引擎，
// 循环结束后收尾：市价单关闭、限价余量挂回账本、行情广播、批量落用户成交量。
// 收尾阶段的任何失败只记录不回滚，成交已由结算事务落定。
type Trading struct {
	book       *OrderBook
	agg        domain.DepthAggregator
	settlement *Settlement
	feeManager *FeeManager
	orders     domain.OrderRepository
	users      domain.UserRepository
	pairs      domain.PairRepository
	wallets    domain.WalletRepository
	prices     domain.PriceHistoryRepository
	publisher  domain.EventPublisher
	logger     *slog.Logger
}

func NewTrading(
	book *OrderBook,
	agg domain.DepthAggregator,
	settlement *Settlement,
	feeManager *FeeManager,
	orders domain.OrderRepository,
	users domain.UserRepository,
	pairs domain.PairRepository,
	wallets domain.WalletRepository,
	prices domain.PriceHistoryRepository,
	publisher domain.EventPublisher,
	logger *slog.Logger,
) *Trading {
	return &Trading{
		book:       book,
		agg:        agg,
		settlement: settlement,
		feeManager: feeManager,
		orders:     orders,
		users:      users,
		pairs:      pairs,
		wallets:    wallets,
		prices:     prices,
		publisher:  publisher,
		logger:     logger.With("module", "trading"),
	}
}

// matchPass 单轮撮合的过程状态
type matchPass struct {
	taker *domain.Order
	pair  *domain.Pair
	fees  *FeePass

	lastPrice decimal.Decimal
	// tradedPrice 本轮最后一笔成交价
	tradedPrice decimal.Decimal
	// tradedVolume 本轮累计成交量（基础资产）
	tradedVolume decimal.Decimal
	// userVolumes 本轮每个非机器人用户的 BTC 折算成交量增量
	userVolumes map[uint64]decimal.Decimal
}

// Trade 对一个 taker 订单跑一轮撮合。同一交易对必须外部串行调用。
// 只有结算失败会作为错误返回。
func (t *Trading) Trade(ctx context.Context, taker *domain.Order) error {
	pass := &matchPass{
		taker:       taker,
		pair:        taker.Pair,
		fees:        t.feeManager.Begin(),
		lastPrice:   taker.Pair.LastPrice,
		userVolumes: make(map[uint64]decimal.Decimal),
	}

	taker.MarkMatching()
	ledger := t.book.TakeMakerOrders(pass.pair, taker.Side.Opposite())
	ledger.Rewind()

	for {
		maker, err := ledger.Next(ctx)
		if err != nil {
			t.logger.ErrorContext(ctx, "load maker orders failed", "taker_id", taker.ID, "error", err)
			break
		}
		if maker == nil {
			break
		}

		// 被并发撤掉或已成交的 maker：摘掉并跳过
		if !maker.InWork() {
			if err := t.book.Remove(ctx, maker); err != nil {
				t.logger.ErrorContext(ctx, "remove stale maker failed", "maker_id", maker.ID, "error", err)
			}
			if maker.CheckCompleted() && maker.IsDirty() {
				if err := t.orders.Save(ctx, maker); err != nil {
					t.logger.ErrorContext(ctx, "save completed maker failed", "maker_id", maker.ID, "error", err)
				}
			}
			continue
		}

		if !t.suitableForMatching(taker, maker) {
			break
		}

		traded, err := t.tradeProcess(ctx, pass, maker)
		if err != nil {
			return err
		}
		if !traded || maker.InWork() || !taker.InWork() {
			break
		}
	}

	t.afterMatching(ctx, pass)
	return nil
}

// suitableForMatching 价格是否仍可成交：限价买单只吃不高于限价的卖单，
// 限价卖单只吃不低于限价的买单，市价单通吃
func (t *Trading) suitableForMatching(taker, maker *domain.Order) bool {
	if taker.IsCompleted() {
		return false
	}
	if taker.IsMarket() {
		return true
	}
	if taker.IsBuy() {
		return maker.Price.LessThanOrEqual(taker.Price)
	}
	return maker.Price.GreaterThanOrEqual(taker.Price)
}

func (t *Trading) tradeProcess(ctx context.Context, pass *matchPass, maker *domain.Order) (bool, error) {
	maker.Pair = pass.pair

	res, err := t.settlement.Execute(ctx, pass.fees, pass.taker, maker)
	if err != nil {
		return false, err
	}
	if !res.Traded {
		return false, nil
	}

	if err := t.agg.Sub(ctx, pass.pair, maker.Side, maker.Price, res.Quantity, true); err != nil {
		t.logger.ErrorContext(ctx, "depth sub failed", "maker_id", maker.ID, "error", err)
	}

	if !maker.InWork() {
		if err := t.book.Remove(ctx, maker); err != nil {
			t.logger.ErrorContext(ctx, "remove filled maker failed", "maker_id", maker.ID, "error", err)
		}
	}

	if !res.Buyer.IsBot {
		t.incrementVolume(pass, res.Buyer, res.Quantity)
	}
	if !res.Seller.IsBot {
		t.incrementVolume(pass, res.Seller, res.Quantity)
	}

	ev := domain.TradePrintEvent{
		PairSymbol: pass.pair.Symbol(),
		Price:      maker.Price,
		Quantity:   res.Quantity,
		TakerSide:  pass.taker.Side,
		DealtAt:    time.Now().UTC(),
	}
	if err := t.publisher.PublishTradePrint(ctx, ev); err != nil {
		t.logger.WarnContext(ctx, "publish trade print failed", "error", err)
	}

	pass.tradedPrice = maker.Price
	pass.tradedVolume = pass.tradedVolume.Add(res.Quantity).RoundDown(pass.pair.BasePrecision)
	return true, nil
}

func (t *Trading) incrementVolume(pass *matchPass, user *domain.User, quantity decimal.Decimal) {
	volumeBtc := quantity.Mul(pass.pair.BtcRate).RoundDown(btcVolumePrecision)
	pass.userVolumes[user.ID] = pass.userVolumes[user.ID].Add(volumeBtc)
}

func (t *Trading) afterMatching(ctx context.Context, pass *matchPass) {
	t.closeMarketOrder(pass.taker)
	t.addToMakerOrders(ctx, pass.taker)

	if pass.taker.IsDirty() {
		if err := t.orders.Save(ctx, pass.taker); err != nil {
			t.logger.ErrorContext(ctx, "save taker failed", "taker_id", pass.taker.ID, "error", err)
		} else {
			pass.taker.MarkClean()
		}
	}

	// 市价单本轮必然收尾，未用完的冻结资金还给可用余额
	if pass.taker.IsMarket() {
		t.unfreezeRest(ctx, pass.taker)
	}

	t.broadcastPrice(ctx, pass)
	t.saveUserVolumes(ctx, pass)

	if err := t.publisher.PublishOrderBookChanged(ctx, domain.OrderBookChangedEvent{
		PairSymbol: pass.pair.Symbol(),
		OrderID:    pass.taker.ID,
		OwnerID:    pass.taker.OwnerID,
		Status:     pass.taker.Status,
	}); err != nil {
		t.logger.WarnContext(ctx, "publish order book change failed", "error", err)
	}
	if err := t.publisher.PublishDepthChanged(ctx, domain.DepthChangedEvent{PairSymbol: pass.pair.Symbol()}); err != nil {
		t.logger.WarnContext(ctx, "publish depth change failed", "error", err)
	}
}

// closeMarketOrder 市价单不驻留账本：有成交按部分成交收尾，零成交撤单
func (t *Trading) closeMarketOrder(taker *domain.Order) {
	if taker.IsMarket() && taker.InWork() {
		if taker.CompletedQuantity().IsPositive() {
			taker.PartlyComplete()
		} else {
			taker.Cancel()
		}
	}
}

// addToMakerOrders 限价单的余量挂回自己一侧的账本与深度
func (t *Trading) addToMakerOrders(ctx context.Context, taker *domain.Order) {
	if !taker.IsLimit() || !taker.InWork() {
		return
	}

	added, err := t.book.Add(ctx, taker)
	if err != nil {
		t.logger.ErrorContext(ctx, "add taker to book failed", "taker_id", taker.ID, "error", err)
		return
	}
	if added {
		if err := t.agg.Add(ctx, taker.Pair, taker.Side, taker.Price, taker.Quantity); err != nil {
			t.logger.ErrorContext(ctx, "depth add failed", "taker_id", taker.ID, "error", err)
		}
	}
}

// broadcastPrice 价格动了追加新价格点并更新最新价；
// 价格未动只把本轮成交量累加到最新点。两种情况都重播行情
func (t *Trading) broadcastPrice(ctx context.Context, pass *matchPass) {
	if pass.tradedPrice.IsZero() {
		return
	}

	if pass.tradedPrice.Equal(pass.lastPrice) {
		if err := t.prices.AddVolume(ctx, pass.pair.ID, pass.tradedVolume); err != nil {
			t.logger.ErrorContext(ctx, "add price history volume failed", "pair_id", pass.pair.ID, "error", err)
		}
	} else {
		pass.pair.LastPrice = pass.tradedPrice
		if err := t.pairs.UpdateLastPrice(ctx, pass.pair.ID, pass.tradedPrice); err != nil {
			t.logger.ErrorContext(ctx, "update last price failed", "pair_id", pass.pair.ID, "error", err)
		}
		if err := t.prices.Append(ctx, pass.pair.ID, pass.tradedPrice, pass.tradedVolume); err != nil {
			t.logger.ErrorContext(ctx, "append price history failed", "pair_id", pass.pair.ID, "error", err)
		}
	}

	ev := domain.PriceUpdateEvent{
		PairSymbol: pass.pair.Symbol(),
		Price:      pass.tradedPrice,
		Volume:     pass.tradedVolume,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := t.publisher.PublishPriceUpdate(ctx, ev); err != nil {
		t.logger.WarnContext(ctx, "publish price update failed", "error", err)
	}
}

func (t *Trading) saveUserVolumes(ctx context.Context, pass *matchPass) {
	if len(pass.userVolumes) == 0 {
		return
	}

	volumes := make([]domain.UserVolume, 0, len(pass.userVolumes))
	for ownerID, volume := range pass.userVolumes {
		volumes = append(volumes, domain.UserVolume{OwnerID: ownerID, Volume: volume})
	}
	if err := t.users.AddTradeVolumes(ctx, volumes); err != nil {
		t.logger.ErrorContext(ctx, "save user volumes failed", "error", err)
	}
	pass.userVolumes = make(map[uint64]decimal.Decimal)
}

// Cancel 撤单。只对等待撤单状态的订单生效，摘账本、回补深度并解冻剩余资金。
func (t *Trading) Cancel(ctx context.Context, order *domain.Order) error {
	if !order.IsPendingCancel() {
		return nil
	}

	order.Cancel()
	if err := t.orders.Save(ctx, order); err != nil {
		return err
	}
	t.RemoveFromOrderBook(ctx, order)
	t.unfreezeRest(ctx, order)
	return nil
}

// unfreezeRest 订单收尾后把未成交部分占用的冻结资金转回可用余额。
// 买单占用计价资产：市价按剩余预留金额，限价按剩余数量 × 限价；
// 卖单占用基础资产，按剩余数量。
func (t *Trading) unfreezeRest(ctx context.Context, order *domain.Order) {
	pair := order.Pair
	asset := pair.BaseAsset
	amount := order.Quantity
	if order.IsBuy() {
		asset = pair.QuoteAsset
		if order.IsMarket() {
			amount = order.ReservedAmount
		} else {
			amount = order.Quantity.Mul(order.Price).RoundDown(pair.QuotePrecision)
		}
	}
	if !amount.IsPositive() {
		return
	}

	if err := t.wallets.UnfreezeRest(ctx, order.OwnerID, asset, amount); err != nil {
		t.logger.ErrorContext(ctx, "unfreeze rest failed",
			"order_id", order.ID, "asset", asset, "amount", amount, "error", err)
	}
}

// Remove 物理删除订单并摘账本，仅用于零成交订单的清理
func (t *Trading) Remove(ctx context.Context, order *domain.Order) error {
	if err := t.orders.Delete(ctx, order.ID); err != nil {
		return err
	}
	t.RemoveFromOrderBook(ctx, order)
	return nil
}

// RemoveFromOrderBook 从账本与深度两处摘除
func (t *Trading) RemoveFromOrderBook(ctx context.Context, order *domain.Order) {
	if err := t.book.Remove(ctx, order); err != nil {
		t.logger.ErrorContext(ctx, "remove from book failed", "order_id", order.ID, "error", err)
	}
	t.removeFromDepth(ctx, order)
}

// RemoveBatchFromOrderBook 批量摘除
func (t *Trading) RemoveBatchFromOrderBook(ctx context.Context, orders []*domain.Order) {
	if err := t.book.RemoveBatch(ctx, orders); err != nil {
		t.logger.ErrorContext(ctx, "remove batch from book failed", "error", err)
	}
	for _, order := range orders {
		t.removeFromDepth(ctx, order)
	}
}

func (t *Trading) removeFromDepth(ctx context.Context, order *domain.Order) {
	if order.IsMarket() {
		return
	}
	if err := t.agg.Sub(ctx, order.Pair, order.Side, order.Price, order.Quantity, false); err != nil {
		t.logger.ErrorContext(ctx, "depth sub failed", "order_id", order.ID, "error", err)
	}
}

// OrderBookChangeEvent 对外发布订单簿变动
func (t *Trading) OrderBookChangeEvent(ctx context.Context, pair *domain.Pair) {
	if err := t.publisher.PublishDepthChanged(ctx, domain.DepthChangedEvent{PairSymbol: pair.Symbol()}); err != nil {
		t.logger.WarnContext(ctx, "publish depth change failed", "error", err)
	}
}
