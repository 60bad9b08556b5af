package infrastructure

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/peiko-en/exchange/internal/matching/domain"
	"github.com/peiko-en/exchange/pkg/cache"
)

// matchOrderRow 挂单索引表行。买卖两侧各一张表，承载全量在途订单，
// Redis 有序集合只承载头部。
type matchOrderRow struct {
	ID      uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID uint64          `gorm:"column:order_id;uniqueIndex;not null"`
	PairID  uint64          `gorm:"column:pair_id;index;not null"`
	Price   decimal.Decimal `gorm:"column:price;type:decimal(32,18);not null"`
}

// HybridOrderIndex 两层挂单索引：MySQL 全量表 + Redis 头部有序集合
type HybridOrderIndex struct {
	baseRepository
	cache *cache.RedisCache
}

func NewHybridOrderIndex(db *gorm.DB, c *cache.RedisCache) domain.OrderIndexRepository {
	return &HybridOrderIndex{baseRepository{db: db}, c}
}

func matchOrderTable(side domain.OrderSide) string {
	if side == domain.SideBuy {
		return "match_bid_orders"
	}
	return "match_ask_orders"
}

func ledgerKey(pair *domain.Pair, side domain.OrderSide) string {
	return fmt.Sprintf("orders:%d:%s", pair.ID, side)
}

func (r *HybridOrderIndex) Insert(ctx context.Context, pair *domain.Pair, side domain.OrderSide, entry domain.IndexEntry) error {
	row := &matchOrderRow{OrderID: entry.OrderID, PairID: pair.ID, Price: entry.Price}
	return r.getDB(ctx).WithContext(ctx).Table(matchOrderTable(side)).Create(row).Error
}

func (r *HybridOrderIndex) Remove(ctx context.Context, pair *domain.Pair, side domain.OrderSide, orderID uint64) error {
	return r.RemoveBatch(ctx, pair, side, []uint64{orderID})
}

func (r *HybridOrderIndex) RemoveBatch(ctx context.Context, pair *domain.Pair, side domain.OrderSide, orderIDs []uint64) error {
	if len(orderIDs) == 0 {
		return nil
	}

	members := make([]any, len(orderIDs))
	for i, id := range orderIDs {
		members[i] = strconv.FormatUint(id, 10)
	}
	if err := r.cache.ZRem(ctx, ledgerKey(pair, side), members...); err != nil {
		return err
	}

	return r.getDB(ctx).WithContext(ctx).Table(matchOrderTable(side)).
		Where("order_id IN ?", orderIDs).
		Delete(&matchOrderRow{}).Error
}

func (r *HybridOrderIndex) ZAdd(ctx context.Context, pair *domain.Pair, side domain.OrderSide, entry domain.IndexEntry) error {
	return r.cache.ZAdd(ctx, ledgerKey(pair, side), redis.Z{
		Score:  float64(pair.PriceScore(entry.Price)),
		Member: strconv.FormatUint(entry.OrderID, 10),
	})
}

func (r *HybridOrderIndex) ZPage(ctx context.Context, pair *domain.Pair, side domain.OrderSide, offset, count int64) ([]domain.IndexEntry, error) {
	var (
		items []redis.Z
		err   error
	)
	if side == domain.SideBuy {
		items, err = r.cache.ZRevRangeWithScores(ctx, ledgerKey(pair, side), offset, offset+count-1)
	} else {
		items, err = r.cache.ZRangeWithScores(ctx, ledgerKey(pair, side), offset, offset+count-1)
	}
	if err != nil {
		return nil, err
	}

	entries := make([]domain.IndexEntry, 0, len(items))
	for _, item := range items {
		id, err := parseMemberID(item.Member)
		if err != nil {
			continue
		}
		entries = append(entries, domain.IndexEntry{
			OrderID: id,
			Price:   pair.ScorePrice(int64(item.Score)),
		})
	}
	return entries, nil
}

// ZBoundary 头部索引中优先级最低的成员：买盘最低分值，卖盘最高分值
func (r *HybridOrderIndex) ZBoundary(ctx context.Context, pair *domain.Pair, side domain.OrderSide) (*domain.IndexEntry, error) {
	var (
		items []redis.Z
		err   error
	)
	if side == domain.SideBuy {
		items, err = r.cache.ZRangeWithScores(ctx, ledgerKey(pair, side), 0, 0)
	} else {
		items, err = r.cache.ZRangeWithScores(ctx, ledgerKey(pair, side), -1, -1)
	}
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	id, err := parseMemberID(items[0].Member)
	if err != nil {
		return nil, err
	}
	return &domain.IndexEntry{OrderID: id, Price: pair.ScorePrice(int64(items[0].Score))}, nil
}

// ChunkFromDB 从全量索引表按撮合优先级取一批
func (r *HybridOrderIndex) ChunkFromDB(ctx context.Context, pair *domain.Pair, side domain.OrderSide, offset, limit int) ([]domain.IndexEntry, error) {
	var rows []matchOrderRow
	err := r.getDB(ctx).WithContext(ctx).Table(matchOrderTable(side)).
		Where("pair_id = ?", pair.ID).
		Order("price " + priceOrder(side) + ", order_id ASC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.IndexEntry, len(rows))
	for i, row := range rows {
		entries[i] = domain.IndexEntry{OrderID: row.OrderID, Price: row.Price}
	}
	return entries, nil
}

func (r *HybridOrderIndex) Clear(ctx context.Context, pair *domain.Pair, side domain.OrderSide) error {
	if err := r.cache.Delete(ctx, ledgerKey(pair, side)); err != nil {
		return err
	}
	return r.getDB(ctx).WithContext(ctx).Table(matchOrderTable(side)).
		Where("pair_id = ?", pair.ID).
		Delete(&matchOrderRow{}).Error
}

func parseMemberID(member any) (uint64, error) {
	s, ok := member.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected member type %T", member)
	}
	return strconv.ParseUint(s, 10, 64)
}
