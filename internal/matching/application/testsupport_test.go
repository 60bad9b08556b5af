package application

import (
	"context"
	"log/slog"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/peiko-en/exchange/internal/matching/domain"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testPair() *domain.Pair {
	return &domain.Pair{
		ID:             1,
		BaseAsset:      "BTC",
		QuoteAsset:     "USDT",
		BasePrecision:  8,
		QuotePrecision: 2,
		BtcRate:        decimal.NewFromInt(1),
	}
}

// --- 深度聚合内存实现 ---

type memDepth struct {
	levels map[domain.OrderSide]map[string]*domain.DepthLevel
}

func newMemDepth() *memDepth {
	return &memDepth{levels: map[domain.OrderSide]map[string]*domain.DepthLevel{
		domain.SideBuy:  {},
		domain.SideSell: {},
	}}
}

func (d *memDepth) Add(_ context.Context, _ *domain.Pair, side domain.OrderSide, price, quantity decimal.Decimal) error {
	key := price.String()
	level, ok := d.levels[side][key]
	if !ok {
		level = &domain.DepthLevel{Price: price}
		d.levels[side][key] = level
	}
	level.Quantity = level.Quantity.Add(quantity)
	level.QuantityMax = level.QuantityMax.Add(quantity)
	return nil
}

func (d *memDepth) Sub(_ context.Context, _ *domain.Pair, side domain.OrderSide, price, quantity decimal.Decimal, _ bool) error {
	key := price.String()
	level, ok := d.levels[side][key]
	if !ok {
		return nil
	}
	level.Quantity = level.Quantity.Sub(quantity)
	if !level.Quantity.IsPositive() {
		delete(d.levels[side], key)
	}
	return nil
}

func (d *memDepth) sorted(side domain.OrderSide) []domain.DepthLevel {
	out := make([]domain.DepthLevel, 0, len(d.levels[side]))
	for _, level := range d.levels[side] {
		out = append(out, *level)
	}
	sort.Slice(out, func(i, j int) bool {
		if side == domain.SideBuy {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

func (d *memDepth) Get(_ context.Context, _ *domain.Pair, side domain.OrderSide, limit, offset int64) ([]domain.DepthLevel, error) {
	all := d.sorted(side)
	if offset >= int64(len(all)) {
		return nil, nil
	}
	end := offset + limit
	if end > int64(len(all)) {
		end = int64(len(all))
	}
	return all[offset:end], nil
}

func (d *memDepth) GetByPrice(_ context.Context, _ *domain.Pair, side domain.OrderSide, price decimal.Decimal) (*domain.DepthLevel, error) {
	level, ok := d.levels[side][price.String()]
	if !ok {
		return nil, nil
	}
	cp := *level
	return &cp, nil
}

func (d *memDepth) GetRangePrices(_ context.Context, _ *domain.Pair, side domain.OrderSide, from, to decimal.Decimal) ([]domain.DepthLevel, error) {
	lo, hi := from, to
	if lo.GreaterThan(hi) {
		lo, hi = hi, lo
	}
	var out []domain.DepthLevel
	for _, level := range d.sorted(side) {
		if level.Price.GreaterThanOrEqual(lo) && level.Price.LessThanOrEqual(hi) {
			out = append(out, level)
		}
	}
	return out, nil
}

func (d *memDepth) Clear(_ context.Context, _ *domain.Pair, side domain.OrderSide) error {
	d.levels[side] = map[string]*domain.DepthLevel{}
	return nil
}

// --- 挂单索引内存实现 ---

type memIndex struct {
	table map[domain.OrderSide][]domain.IndexEntry
	zset  map[domain.OrderSide][]domain.IndexEntry
}

func newMemIndex() *memIndex {
	return &memIndex{
		table: map[domain.OrderSide][]domain.IndexEntry{},
		zset:  map[domain.OrderSide][]domain.IndexEntry{},
	}
}

func (m *memIndex) Insert(_ context.Context, _ *domain.Pair, side domain.OrderSide, entry domain.IndexEntry) error {
	m.table[side] = append(m.table[side], entry)
	return nil
}

func (m *memIndex) Remove(ctx context.Context, pair *domain.Pair, side domain.OrderSide, orderID uint64) error {
	return m.RemoveBatch(ctx, pair, side, []uint64{orderID})
}

func (m *memIndex) RemoveBatch(_ context.Context, _ *domain.Pair, side domain.OrderSide, orderIDs []uint64) error {
	drop := make(map[uint64]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		drop[id] = struct{}{}
	}
	filter := func(entries []domain.IndexEntry) []domain.IndexEntry {
		kept := entries[:0]
		for _, e := range entries {
			if _, ok := drop[e.OrderID]; !ok {
				kept = append(kept, e)
			}
		}
		return kept
	}
	m.table[side] = filter(m.table[side])
	m.zset[side] = filter(m.zset[side])
	return nil
}

func (m *memIndex) ZAdd(_ context.Context, _ *domain.Pair, side domain.OrderSide, entry domain.IndexEntry) error {
	for i, e := range m.zset[side] {
		if e.OrderID == entry.OrderID {
			m.zset[side][i] = entry
			return nil
		}
	}
	m.zset[side] = append(m.zset[side], entry)
	return nil
}

// zsetSorted 模拟有序集合顺序：分值升序，同分值按成员字典序
func (m *memIndex) zsetSorted(side domain.OrderSide) []domain.IndexEntry {
	out := append([]domain.IndexEntry(nil), m.zset[side]...)
	sort.Slice(out, func(i, j int) bool {
		c := out[i].Price.Cmp(out[j].Price)
		if c != 0 {
			return c < 0
		}
		return strconv.FormatUint(out[i].OrderID, 10) < strconv.FormatUint(out[j].OrderID, 10)
	})
	return out
}

func (m *memIndex) ZPage(_ context.Context, _ *domain.Pair, side domain.OrderSide, offset, count int64) ([]domain.IndexEntry, error) {
	all := m.zsetSorted(side)
	if side == domain.SideBuy {
		for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
			all[i], all[j] = all[j], all[i]
		}
	}
	if offset >= int64(len(all)) {
		return nil, nil
	}
	end := offset + count
	if end > int64(len(all)) {
		end = int64(len(all))
	}
	return all[offset:end], nil
}

func (m *memIndex) ZBoundary(_ context.Context, _ *domain.Pair, side domain.OrderSide) (*domain.IndexEntry, error) {
	all := m.zsetSorted(side)
	if len(all) == 0 {
		return nil, nil
	}
	if side == domain.SideBuy {
		return &all[0], nil
	}
	return &all[len(all)-1], nil
}

func (m *memIndex) ChunkFromDB(_ context.Context, _ *domain.Pair, side domain.OrderSide, offset, limit int) ([]domain.IndexEntry, error) {
	all := append([]domain.IndexEntry(nil), m.table[side]...)
	sort.Slice(all, func(i, j int) bool {
		var c int
		if side == domain.SideBuy {
			c = all[j].Price.Cmp(all[i].Price)
		} else {
			c = all[i].Price.Cmp(all[j].Price)
		}
		if c != 0 {
			return c < 0
		}
		return all[i].OrderID < all[j].OrderID
	})
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *memIndex) Clear(_ context.Context, _ *domain.Pair, side domain.OrderSide) error {
	m.table[side] = nil
	m.zset[side] = nil
	return nil
}

// --- 订单仓储内存实现 ---

type memOrders struct {
	byID map[uint64]*domain.Order
	// deleted 被物理删除的订单 id
	deleted []uint64
	saveErr error
}

func newMemOrders(orders ...*domain.Order) *memOrders {
	m := &memOrders{byID: map[uint64]*domain.Order{}}
	for _, o := range orders {
		m.byID[o.ID] = o
	}
	return m
}

func (m *memOrders) FindByID(_ context.Context, id uint64) (*domain.Order, error) {
	return m.byID[id], nil
}

func (m *memOrders) FindByIDs(_ context.Context, ids []uint64) ([]*domain.Order, error) {
	var out []*domain.Order
	for _, id := range ids {
		if o, ok := m.byID[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memOrders) FindInWork(_ context.Context, pairID uint64, side domain.OrderSide, afterID uint64, limit int) ([]*domain.Order, error) {
	var out []*domain.Order
	for _, o := range m.byID {
		if o.PairID == pairID && o.Side == side && o.IsLimit() && o.InWork() && o.ID > afterID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memOrders) Save(_ context.Context, order *domain.Order) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.byID[order.ID] = order
	return nil
}

func (m *memOrders) Delete(_ context.Context, id uint64) error {
	delete(m.byID, id)
	m.deleted = append(m.deleted, id)
	return nil
}

// --- 其他协作方 ---

type memDeals struct {
	created []*domain.Deal
	err     error
}

func (m *memDeals) Create(_ context.Context, deals []*domain.Deal) error {
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, deals...)
	return nil
}

func (m *memDeals) LastPrice(_ context.Context, _ uint64) (decimal.Decimal, error) {
	if len(m.created) == 0 {
		return decimal.Zero, nil
	}
	return m.created[len(m.created)-1].Price, nil
}

type walletOp struct {
	kind    string
	ownerID uint64
	asset   string
	amount  decimal.Decimal
}

type memWallets struct {
	ops []walletOp
	err error
}

func (m *memWallets) Find(_ context.Context, _ uint64, _ string) (*domain.Wallet, error) {
	return nil, nil
}

func (m *memWallets) Increase(_ context.Context, ownerID uint64, asset string, amount decimal.Decimal) error {
	if m.err != nil {
		return m.err
	}
	m.ops = append(m.ops, walletOp{"increase", ownerID, asset, amount})
	return nil
}

func (m *memWallets) DecreaseFrozen(_ context.Context, ownerID uint64, asset string, amount decimal.Decimal) error {
	if m.err != nil {
		return m.err
	}
	m.ops = append(m.ops, walletOp{"decrease_frozen", ownerID, asset, amount})
	return nil
}

func (m *memWallets) UnfreezeRest(_ context.Context, ownerID uint64, asset string, amount decimal.Decimal) error {
	m.ops = append(m.ops, walletOp{"unfreeze", ownerID, asset, amount})
	return nil
}

func (m *memWallets) increased(ownerID uint64, asset string) decimal.Decimal {
	total := decimal.Zero
	for _, op := range m.ops {
		if op.kind == "increase" && op.ownerID == ownerID && op.asset == asset {
			total = total.Add(op.amount)
		}
	}
	return total
}

type memUsers struct {
	volumes []domain.UserVolume
}

func (m *memUsers) FindByID(_ context.Context, _ uint64) (*domain.User, error) { return nil, nil }

func (m *memUsers) AddTradeVolumes(_ context.Context, volumes []domain.UserVolume) error {
	m.volumes = append(m.volumes, volumes...)
	return nil
}

type memPairs struct {
	pair      *domain.Pair
	lastPrice decimal.Decimal
	updates   int
}

func (m *memPairs) FindByID(_ context.Context, _ uint64) (*domain.Pair, error)      { return m.pair, nil }
func (m *memPairs) FindBySymbol(_ context.Context, _ string) (*domain.Pair, error) { return m.pair, nil }

func (m *memPairs) UpdateLastPrice(_ context.Context, _ uint64, price decimal.Decimal) error {
	m.lastPrice = price
	m.updates++
	return nil
}

type memFeeSchedules struct {
	byOwner map[uint64]*domain.FeeSchedule
	calls   int
	err     error
}

func (m *memFeeSchedules) FindByOwnerID(_ context.Context, ownerID uint64) (*domain.FeeSchedule, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.byOwner[ownerID], nil
}

type memFeeLedger struct {
	entries []*domain.FeeLedgerEntry
	err     error
}

func (m *memFeeLedger) Add(_ context.Context, entry *domain.FeeLedgerEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entry)
	return nil
}

type pricePoint struct {
	price  decimal.Decimal
	volume decimal.Decimal
}

type memPrices struct {
	points []pricePoint
	// volumeAdds 追到最新点上的成交量增量
	volumeAdds []decimal.Decimal
}

func (m *memPrices) Append(_ context.Context, _ uint64, price, volume decimal.Decimal) error {
	m.points = append(m.points, pricePoint{price: price, volume: volume})
	return nil
}

func (m *memPrices) AddVolume(_ context.Context, _ uint64, volume decimal.Decimal) error {
	m.volumeAdds = append(m.volumeAdds, volume)
	return nil
}

type memPublisher struct {
	trades    []domain.TradePrintEvent
	prices    []domain.PriceUpdateEvent
	depths    []domain.DepthChangedEvent
	books     []domain.OrderBookChangedEvent
	externals []domain.ExternalOrderEvent
}

func (m *memPublisher) PublishTradePrint(_ context.Context, ev domain.TradePrintEvent) error {
	m.trades = append(m.trades, ev)
	return nil
}

func (m *memPublisher) PublishPriceUpdate(_ context.Context, ev domain.PriceUpdateEvent) error {
	m.prices = append(m.prices, ev)
	return nil
}

func (m *memPublisher) PublishDepthChanged(_ context.Context, ev domain.DepthChangedEvent) error {
	m.depths = append(m.depths, ev)
	return nil
}

func (m *memPublisher) PublishOrderBookChanged(_ context.Context, ev domain.OrderBookChangedEvent) error {
	m.books = append(m.books, ev)
	return nil
}

func (m *memPublisher) PublishExternalOrder(_ context.Context, ev domain.ExternalOrderEvent) error {
	m.externals = append(m.externals, ev)
	return nil
}

type memTx struct{}

func (memTx) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memBots struct {
	ids map[uint64]struct{}
}

func newMemBots(ids ...uint64) *memBots {
	m := &memBots{ids: map[uint64]struct{}{}}
	for _, id := range ids {
		m.ids[id] = struct{}{}
	}
	return m
}

func (m *memBots) Add(_ context.Context, orderID uint64) error {
	m.ids[orderID] = struct{}{}
	return nil
}

func (m *memBots) Remove(_ context.Context, orderID uint64) error {
	delete(m.ids, orderID)
	return nil
}

func (m *memBots) Contains(_ context.Context, orderID uint64) (bool, error) {
	_, ok := m.ids[orderID]
	return ok, nil
}

type memRewards struct {
	deals []*domain.Deal
}

func (m *memRewards) OnDeal(_ context.Context, deal *domain.Deal) error {
	m.deals = append(m.deals, deal)
	return nil
}

// --- 测试装配 ---

type fixture struct {
	pair      *domain.Pair
	depth     *memDepth
	index     *memIndex
	orders    *memOrders
	deals     *memDeals
	wallets   *memWallets
	users     *memUsers
	pairs     *memPairs
	schedules *memFeeSchedules
	feeLedger *memFeeLedger
	prices    *memPrices
	publisher *memPublisher
	rewards   *memRewards

	feeManager *FeeManager
	settlement *Settlement
	book       *OrderBook
	trading    *Trading
}

func newFixture(orders ...*domain.Order) *fixture {
	f := &fixture{
		pair:      testPair(),
		depth:     newMemDepth(),
		index:     newMemIndex(),
		orders:    newMemOrders(orders...),
		deals:     &memDeals{},
		wallets:   &memWallets{},
		users:     &memUsers{},
		schedules: &memFeeSchedules{byOwner: map[uint64]*domain.FeeSchedule{}},
		feeLedger: &memFeeLedger{},
		prices:    &memPrices{},
		publisher: &memPublisher{},
		rewards:   &memRewards{},
	}
	f.pairs = &memPairs{pair: f.pair}

	logger := testLogger()
	f.feeManager = NewFeeManager(f.schedules, logger)
	f.settlement = NewSettlement(
		f.deals, f.wallets, f.orders, f.feeLedger, f.rewards,
		f.publisher, memTx{}, false, logger)
	f.book = NewOrderBook(f.index, f.orders, logger)
	f.trading = NewTrading(
		f.book, f.depth, f.settlement, f.feeManager,
		f.orders, f.users, f.pairs, f.wallets, f.prices, f.publisher, logger)
	return f
}

// seedMaker 构造挂单并写入账本与深度
func (f *fixture) seedMaker(ctx context.Context, order *domain.Order) {
	order.Pair = f.pair
	f.orders.byID[order.ID] = order
	if _, err := f.book.Add(ctx, order); err != nil {
		panic(err)
	}
	if err := f.depth.Add(ctx, f.pair, order.Side, order.Price, order.Quantity); err != nil {
		panic(err)
	}
}

func limitOrder(id, ownerID uint64, side domain.OrderSide, price, qty string) *domain.Order {
	return &domain.Order{
		ID:            id,
		PairID:        1,
		OwnerID:       ownerID,
		Side:          side,
		Kind:          domain.KindLimit,
		Price:         dec(price),
		QuantityStart: dec(qty),
		Quantity:      dec(qty),
		Status:        domain.StatusOpen,
		Owner:         &domain.User{ID: ownerID},
	}
}

func marketOrder(id, ownerID uint64, side domain.OrderSide, qty string) *domain.Order {
	return &domain.Order{
		ID:            id,
		PairID:        1,
		OwnerID:       ownerID,
		Side:          side,
		Kind:          domain.KindMarket,
		QuantityStart: dec(qty),
		Quantity:      dec(qty),
		Status:        domain.StatusOpen,
		Owner:         &domain.User{ID: ownerID},
	}
}
