package application

import (
	"context"
	"log/slog"
	"sort"

	"github.com/peiko-en/exchange/internal/matching/domain"
)

const (
	// ledgerPageSize 内存页一次装载的订单数
	ledgerPageSize = 50
	// ledgerChunkSize 头部索引为空时从索引表回填的批量
	ledgerChunkSize = 2000
)

// restingLedger 单个（交易对, 方向）的挂单账本。
// 三层结构：内存页（按撮合优先级的一段前缀）、Redis 头部有序集合、
// MySQL 全量索引表。页耗尽时从头部索引懒加载，头部索引为空时从索引表回填。
// 索引指向的订单行可能已被删除，装载时把悬挂 id 从两层索引清掉并重试。
type restingLedger struct {
	pair   *domain.Pair
	side   domain.OrderSide
	index  domain.OrderIndexRepository
	orders domain.OrderRepository
	logger *slog.Logger

	page   []*domain.Order
	cursor int
}

func newRestingLedger(pair *domain.Pair, side domain.OrderSide, index domain.OrderIndexRepository, orders domain.OrderRepository, logger *slog.Logger) *restingLedger {
	return &restingLedger{
		pair:   pair,
		side:   side,
		index:  index,
		orders: orders,
		logger: logger.With("module", "resting_ledger", "pair", pair.Symbol(), "side", side),
	}
}

// Rewind 重置迭代游标，每轮撮合开始时调用
func (l *restingLedger) Rewind() {
	l.cursor = 0
}

// Next 按优先级取下一个 maker 订单，账本耗尽返回 nil, nil
func (l *restingLedger) Next(ctx context.Context) (*domain.Order, error) {
	if l.cursor >= len(l.page) {
		if err := l.load(ctx); err != nil {
			return nil, err
		}
		if len(l.page) == 0 {
			return nil, nil
		}
	}

	order := l.page[l.cursor]
	l.cursor++
	return order, nil
}

func (l *restingLedger) load(ctx context.Context) error {
	for tries := 0; tries < 3; tries++ {
		l.page = nil
		l.cursor = 0

		ids, err := l.loadIDs(ctx)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		loaded, err := l.orders.FindByIDs(ctx, ids)
		if err != nil {
			return err
		}

		byID := make(map[uint64]*domain.Order, len(loaded))
		for _, o := range loaded {
			byID[o.ID] = o
		}

		var dangling []uint64
		for _, id := range ids {
			if o, ok := byID[id]; ok {
				o.Pair = l.pair
				l.page = append(l.page, o)
			} else {
				dangling = append(dangling, id)
			}
		}

		if len(dangling) > 0 {
			l.logger.WarnContext(ctx, "purge dangling ledger ids", "count", len(dangling))
			if err := l.index.RemoveBatch(ctx, l.pair, l.side, dangling); err != nil {
				return err
			}
		}

		if len(l.page) > 0 {
			return nil
		}
	}
	return nil
}

// loadIDs 先取 Redis 头部索引的一页；空则从 MySQL 索引表回填一批
func (l *restingLedger) loadIDs(ctx context.Context) ([]uint64, error) {
	entries, err := l.index.ZPage(ctx, l.pair, l.side, 0, ledgerPageSize)
	if err != nil {
		// 头部索引不可用时直接走索引表回填
		l.logger.ErrorContext(ctx, "load head index failed", "error", err)
		entries = nil
	}

	if len(entries) == 0 {
		return l.refillFromDB(ctx)
	}

	if l.side == domain.SideBuy {
		sortBidEntries(entries)
	}

	ids := make([]uint64, len(entries))
	for i, e := range entries {
		ids[i] = e.OrderID
	}
	return ids, nil
}

// sortBidEntries 买盘经 zrevrange 取回后同价成员的到达顺序被反转，
// 本地按价格降序、id 升序重排
func sortBidEntries(entries []domain.IndexEntry) {
	distinct := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		distinct[e.Price.String()] = struct{}{}
	}
	if len(distinct) == len(entries) {
		return
	}

	sort.SliceStable(entries, func(i, j int) bool {
		c := entries[j].Price.Cmp(entries[i].Price)
		if c != 0 {
			return c < 0
		}
		return entries[i].OrderID < entries[j].OrderID
	})
}

func (l *restingLedger) refillFromDB(ctx context.Context) ([]uint64, error) {
	entries, err := l.index.ChunkFromDB(ctx, l.pair, l.side, 0, ledgerChunkSize)
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(entries))
	for _, e := range entries {
		if err := l.index.ZAdd(ctx, l.pair, l.side, e); err != nil {
			return nil, err
		}
		ids = append(ids, e.OrderID)
	}
	return ids, nil
}

// Add 挂单入账本。索引表必写；头部有序集合仅在新价格优于集合中
// 最差价时写入（集合只承载头部，劣价留给回填）；内存页仅在
// 新单排进当前已装载前缀内时收留，排在页尾之后直接丢弃，
// 等下一次页装载再取。
func (l *restingLedger) Add(ctx context.Context, order *domain.Order) (bool, error) {
	entry := domain.IndexEntry{OrderID: order.ID, Price: order.Price}
	if err := l.index.Insert(ctx, l.pair, l.side, entry); err != nil {
		return false, err
	}
	if err := l.addToHeadIndex(ctx, entry); err != nil {
		return false, err
	}

	if len(l.page) == 0 {
		return true, nil
	}

	l.page = append(l.page, order)
	sort.SliceStable(l.page, func(i, j int) bool {
		a, b := l.page[i], l.page[j]
		var c int
		if l.side == domain.SideBuy {
			c = b.Price.Cmp(a.Price)
		} else {
			c = a.Price.Cmp(b.Price)
		}
		if c != 0 {
			return c < 0
		}
		return a.ID < b.ID
	})

	// 落在页尾说明后面可能还有未装载的更优订单，不能收留
	if l.page[len(l.page)-1].ID == order.ID {
		l.page = l.page[:len(l.page)-1]
	}
	return true, nil
}

func (l *restingLedger) addToHeadIndex(ctx context.Context, entry domain.IndexEntry) error {
	boundary, err := l.index.ZBoundary(ctx, l.pair, l.side)
	if err != nil {
		return err
	}
	if boundary == nil {
		return nil
	}

	if l.side == domain.SideBuy && entry.Price.GreaterThan(boundary.Price) {
		return l.index.ZAdd(ctx, l.pair, l.side, entry)
	}
	if l.side == domain.SideSell && entry.Price.LessThan(boundary.Price) {
		return l.index.ZAdd(ctx, l.pair, l.side, entry)
	}
	return nil
}

// Remove 从两层索引与内存页删除。被删元素位于游标之前时游标回退，
// 保证迭代不跳号不重复。
func (l *restingLedger) Remove(ctx context.Context, ids ...uint64) error {
	if len(ids) == 0 {
		return nil
	}

	if err := l.index.RemoveBatch(ctx, l.pair, l.side, ids); err != nil {
		return err
	}

	removed := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		removed[id] = struct{}{}
	}

	kept := l.page[:0]
	for i, order := range l.page {
		if _, ok := removed[order.ID]; ok {
			if i < l.cursor {
				l.cursor--
			}
			continue
		}
		kept = append(kept, order)
	}
	l.page = kept
	return nil
}
