package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/peiko-en/exchange/internal/matching/domain"
)

// SettlementResult 一次配对结算的产出。Traded 为假表示本次配对没有成交，
// 仅发生在市价买单的预留资金先于数量耗尽时。
type SettlementResult struct {
	Traded   bool
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Buyer    *domain.User
	Seller   *domain.User
}

// Settlement 结算引擎：对一对 taker/maker 订单计算成交价、成交量与双边手续费，
// 在单个事务内落成交、扣数量、记账。事务失败整体回滚并上抛结算错误；
// 事务提交后的副作用（手续费台账、外部镜像、返佣）只记录失败不回滚。
type Settlement struct {
	deals     domain.DealRepository
	wallets   domain.WalletRepository
	orders    domain.OrderRepository
	feeLedger domain.FeeLedgerRepository
	rewards   domain.RewardProgram
	publisher domain.EventPublisher
	tx        domain.TxManager
	logger    *slog.Logger

	// exchangeTrading 开启后，机器人与真实用户的成交会镜像到外部交易所
	exchangeTrading bool
}

func NewSettlement(
	deals domain.DealRepository,
	wallets domain.WalletRepository,
	orders domain.OrderRepository,
	feeLedger domain.FeeLedgerRepository,
	rewards domain.RewardProgram,
	publisher domain.EventPublisher,
	tx domain.TxManager,
	exchangeTrading bool,
	logger *slog.Logger,
) *Settlement {
	return &Settlement{
		deals:           deals,
		wallets:         wallets,
		orders:          orders,
		feeLedger:       feeLedger,
		rewards:         rewards,
		publisher:       publisher,
		tx:              tx,
		exchangeTrading: exchangeTrading,
		logger:          logger.With("module", "settlement"),
	}
}

// dealOutcome 结算提交后副作用阶段的入参
type dealOutcome struct {
	pair          *domain.Pair
	maker         *domain.Order
	buyer         *domain.User
	seller        *domain.User
	buyerOrderID  uint64
	sellerOrderID uint64
	price         decimal.Decimal
	quantity      decimal.Decimal
	proceeds      decimal.Decimal
	buyerRate     decimal.Decimal
	sellerRate    decimal.Decimal
	buyerFee      decimal.Decimal
	sellerFee     decimal.Decimal
}

// Execute 结算一对订单。taker 与 maker 都必须仍有剩余数量。
// fees 为本轮撮合的费率缓存，由编排器持有。
func (s *Settlement) Execute(ctx context.Context, fees *FeePass, taker, maker *domain.Order) (*SettlementResult, error) {
	pair := taker.Pair

	price := s.resolvePrice(taker, maker)
	buyer, seller, buyerOrderID, sellerOrderID := s.resolveParticipants(taker, maker)
	quantity := s.resolveQuantity(taker, maker, pair)

	if quantity.LessThanOrEqual(decimal.Zero) {
		return &SettlementResult{Traded: false}, nil
	}

	buyerRate := fees.GetFee(ctx, buyer, taker.IsBuy())
	sellerRate := fees.GetFee(ctx, seller, taker.IsSell())

	// 买方收基础资产，按数量计费；卖方收计价资产，按货款计费
	buyerFee := domain.CalcFee(quantity, buyerRate, pair.BasePrecision)
	proceeds := quantity.Mul(price).RoundDown(pair.QuotePrecision)
	sellerFee := domain.CalcFee(proceeds, sellerRate, pair.QuotePrecision)

	if taker.IsBuy() {
		taker.IncreaseFee(buyerFee, pair.BasePrecision)
		maker.IncreaseFee(sellerFee, pair.QuotePrecision)
	} else {
		taker.IncreaseFee(sellerFee, pair.QuotePrecision)
		maker.IncreaseFee(buyerFee, pair.BasePrecision)
	}

	if taker.IsMarket() && taker.IsBuy() {
		taker.DecreaseReserved(proceeds, pair.QuotePrecision)
	}

	err := s.tx.Transaction(ctx, func(txCtx context.Context) error {
		now := time.Now().UTC()
		deals := []*domain.Deal{
			{
				PairID: pair.ID, OrderID: buyerOrderID, OwnerID: buyer.ID,
				Side: domain.SideBuy, Price: price, Quantity: quantity,
				Amount: proceeds, Fee: buyerFee,
				IsMaker: buyerOrderID == maker.ID, CounterID: sellerOrderID, CreatedAt: now,
			},
			{
				PairID: pair.ID, OrderID: sellerOrderID, OwnerID: seller.ID,
				Side: domain.SideSell, Price: price, Quantity: quantity,
				Amount: proceeds, Fee: sellerFee,
				IsMaker: sellerOrderID == maker.ID, CounterID: buyerOrderID, CreatedAt: now,
			},
		}
		if err := s.deals.Create(txCtx, deals); err != nil {
			return err
		}

		if err := maker.Decrease(quantity); err != nil {
			return err
		}
		if err := taker.Decrease(quantity); err != nil {
			return err
		}
		if err := s.orders.Save(txCtx, maker); err != nil {
			return err
		}
		if err := s.orders.Save(txCtx, taker); err != nil {
			return err
		}

		// 付款腿走冻结余额，收款腿进可用余额
		if err := s.wallets.DecreaseFrozen(txCtx, buyer.ID, pair.QuoteAsset, proceeds); err != nil {
			return err
		}
		if err := s.wallets.DecreaseFrozen(txCtx, seller.ID, pair.BaseAsset, quantity); err != nil {
			return err
		}

		buyerIncome := quantity.Sub(buyerFee).RoundDown(pair.BasePrecision)
		if err := s.wallets.Increase(txCtx, buyer.ID, pair.BaseAsset, buyerIncome); err != nil {
			return err
		}

		sellerIncome := proceeds.Sub(sellerFee).RoundDown(pair.QuotePrecision)
		return s.wallets.Increase(txCtx, seller.ID, pair.QuoteAsset, sellerIncome)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "settlement transaction failed",
			"taker_id", taker.ID, "maker_id", maker.ID, "quantity", quantity, "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrSettlementFailed, err)
	}

	maker.MarkClean()
	taker.MarkClean()

	s.afterCommit(ctx, &dealOutcome{
		pair:          pair,
		maker:         maker,
		buyer:         buyer,
		seller:        seller,
		buyerOrderID:  buyerOrderID,
		sellerOrderID: sellerOrderID,
		price:         price,
		quantity:      quantity,
		proceeds:      proceeds,
		buyerRate:     buyerRate,
		sellerRate:    sellerRate,
		buyerFee:      buyerFee,
		sellerFee:     sellerFee,
	})

	return &SettlementResult{
		Traded:   true,
		Quantity: quantity,
		Price:    price,
		Buyer:    buyer,
		Seller:   seller,
	}, nil
}

// resolvePrice 市价 taker 按 maker 价成交；限价 taker 在 maker 为卖方时
// 按 maker 价，否则按自身限价
func (s *Settlement) resolvePrice(taker, maker *domain.Order) decimal.Decimal {
	if taker.IsLimit() && !maker.IsSell() {
		return taker.Price
	}
	return maker.Price
}

func (s *Settlement) resolveParticipants(taker, maker *domain.Order) (buyer, seller *domain.User, buyerOrderID, sellerOrderID uint64) {
	if maker.IsBuy() {
		return maker.Owner, taker.Owner, maker.ID, taker.ID
	}
	return taker.Owner, maker.Owner, taker.ID, maker.ID
}

// resolveQuantity 成交量取双方剩余的较小值；市价买单额外受预留资金约束：
// 上限 = 预留金额 ÷ maker 价格。每次配对按当前 maker 价重算，
// 因为后续 maker 价不同且预留金额在逐笔缩水。
func (s *Settlement) resolveQuantity(taker, maker *domain.Order, pair *domain.Pair) decimal.Decimal {
	quantity := taker.Quantity
	if maker.Quantity.LessThan(quantity) {
		quantity = maker.Quantity
	}

	if maker.IsSell() && taker.IsMarket() {
		maxQuantity := taker.ReservedAmount.Div(maker.Price).RoundDown(pair.BasePrecision)
		if maxQuantity.LessThan(quantity) {
			quantity = maxQuantity
		}
	}
	return quantity
}

func (s *Settlement) afterCommit(ctx context.Context, out *dealOutcome) {
	s.recordFees(ctx, out)

	if s.rewards != nil {
		if !out.buyer.IsBot {
			deal := &domain.Deal{PairID: out.pair.ID, OrderID: out.buyerOrderID, OwnerID: out.buyer.ID, Side: domain.SideBuy, Price: out.price, Quantity: out.quantity}
			if err := s.rewards.OnDeal(ctx, deal); err != nil {
				s.logger.WarnContext(ctx, "reward program failed", "owner_id", out.buyer.ID, "error", err)
			}
		}
		if !out.seller.IsBot {
			deal := &domain.Deal{PairID: out.pair.ID, OrderID: out.sellerOrderID, OwnerID: out.seller.ID, Side: domain.SideSell, Price: out.price, Quantity: out.quantity}
			if err := s.rewards.OnDeal(ctx, deal); err != nil {
				s.logger.WarnContext(ctx, "reward program failed", "owner_id", out.seller.ID, "error", err)
			}
		}
	}

	s.dispatchToExchange(ctx, out)
}

// recordFees 双边手续费入台账，机器人一侧不记
func (s *Settlement) recordFees(ctx context.Context, out *dealOutcome) {
	now := time.Now().UTC()
	entries := []*domain.FeeLedgerEntry{
		{
			OwnerID: out.buyer.ID, OrderID: out.buyerOrderID, PairID: out.pair.ID,
			Asset: out.pair.BaseAsset, Amount: out.quantity,
			Rate: out.buyerRate, Fee: out.buyerFee, CreatedAt: now,
		},
		{
			OwnerID: out.seller.ID, OrderID: out.sellerOrderID, PairID: out.pair.ID,
			Asset: out.pair.QuoteAsset, Amount: out.proceeds,
			Rate: out.sellerRate, Fee: out.sellerFee, CreatedAt: now,
		},
	}
	bots := []bool{out.buyer.IsBot, out.seller.IsBot}

	for i, entry := range entries {
		if bots[i] {
			continue
		}
		if err := s.feeLedger.Add(ctx, entry); err != nil {
			s.logger.WarnContext(ctx, "record fee ledger failed",
				"owner_id", entry.OwnerID, "order_id", entry.OrderID, "error", err)
		}
	}
}

// dispatchToExchange 机器人对真实用户的成交镜像到外部交易所，
// 方向取真实用户一侧
func (s *Settlement) dispatchToExchange(ctx context.Context, out *dealOutcome) {
	if !s.exchangeTrading || out.buyer.IsBot == out.seller.IsBot {
		return
	}

	side := domain.SideBuy
	if out.buyer.IsBot {
		side = domain.SideSell
	}

	ev := domain.ExternalOrderEvent{
		PairSymbol: out.pair.Symbol(),
		OrderID:    out.maker.ID,
		Side:       side,
		Price:      out.maker.Price,
		Quantity:   out.quantity,
	}
	if err := s.publisher.PublishExternalOrder(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "dispatch external order failed", "order_id", out.maker.ID, "error", err)
	}
}
