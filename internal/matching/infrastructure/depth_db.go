package infrastructure

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/peiko-en/exchange/internal/matching/domain"
)

// depthRow 深度聚合表行，买卖两侧各一张表
type depthRow struct {
	ID          uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	PairID      uint64          `gorm:"column:pair_id;uniqueIndex:uk_pair_price;not null"`
	Price       decimal.Decimal `gorm:"column:price;type:decimal(32,18);uniqueIndex:uk_pair_price;not null"`
	Quantity    decimal.Decimal `gorm:"column:quantity;type:decimal(32,18);not null"`
	QuantityMax decimal.Decimal `gorm:"column:quantity_max;type:decimal(32,18);not null"`
}

// DBDepthAggregator 持久化深度聚合。sub 对行加锁避免丢失更新，
// normalize 参数被忽略：关系表不会出现缓存残留。
type DBDepthAggregator struct {
	baseRepository
}

func NewDBDepthAggregator(db *gorm.DB) domain.DepthAggregator {
	return &DBDepthAggregator{baseRepository{db: db}}
}

func depthTable(side domain.OrderSide) string {
	if side == domain.SideBuy {
		return "order_book_bids"
	}
	return "order_book_asks"
}

func (a *DBDepthAggregator) query(ctx context.Context, pair *domain.Pair, side domain.OrderSide) *gorm.DB {
	return a.getDB(ctx).WithContext(ctx).Table(depthTable(side)).Where("pair_id = ?", pair.ID)
}

func (a *DBDepthAggregator) Add(ctx context.Context, pair *domain.Pair, side domain.OrderSide, price, quantity decimal.Decimal) error {
	res := a.query(ctx, pair, side).
		Where("price = ?", price).
		Updates(map[string]any{
			"quantity":     gorm.Expr("quantity + ?", quantity),
			"quantity_max": gorm.Expr("quantity_max + ?", quantity),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	row := &depthRow{PairID: pair.ID, Price: price, Quantity: quantity, QuantityMax: quantity}
	return a.getDB(ctx).WithContext(ctx).Table(depthTable(side)).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "pair_id"}, {Name: "price"}},
			DoUpdates: clause.Assignments(map[string]any{
				"quantity":     gorm.Expr("quantity + ?", quantity),
				"quantity_max": gorm.Expr("quantity_max + ?", quantity),
			}),
		}).Create(row).Error
}

func (a *DBDepthAggregator) Sub(ctx context.Context, pair *domain.Pair, side domain.OrderSide, price, quantity decimal.Decimal, normalize bool) error {
	var row depthRow
	err := a.query(ctx, pair, side).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("price = ?", price).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	remaining := row.Quantity.Sub(quantity).RoundDown(pair.BasePrecision)
	if remaining.IsPositive() {
		return a.query(ctx, pair, side).
			Where("price = ?", price).
			UpdateColumn("quantity", remaining).Error
	}
	return a.query(ctx, pair, side).
		Where("price = ?", price).
		Delete(&depthRow{}).Error
}

func (a *DBDepthAggregator) Get(ctx context.Context, pair *domain.Pair, side domain.OrderSide, limit, offset int64) ([]domain.DepthLevel, error) {
	var rows []depthRow
	err := a.query(ctx, pair, side).
		Order("price " + priceOrder(side)).
		Limit(int(limit)).
		Offset(int(offset)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return depthLevels(rows), nil
}

func (a *DBDepthAggregator) GetByPrice(ctx context.Context, pair *domain.Pair, side domain.OrderSide, price decimal.Decimal) (*domain.DepthLevel, error) {
	var row depthRow
	err := a.query(ctx, pair, side).Where("price = ?", price).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	level := domain.DepthLevel{Price: row.Price, Quantity: row.Quantity, QuantityMax: row.QuantityMax}
	return &level, nil
}

func (a *DBDepthAggregator) GetRangePrices(ctx context.Context, pair *domain.Pair, side domain.OrderSide, from, to decimal.Decimal) ([]domain.DepthLevel, error) {
	lo, hi := from, to
	if lo.GreaterThan(hi) {
		lo, hi = hi, lo
	}

	var rows []depthRow
	err := a.query(ctx, pair, side).
		Where("price BETWEEN ? AND ?", lo, hi).
		Order("price " + priceOrder(side)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return depthLevels(rows), nil
}

func (a *DBDepthAggregator) Clear(ctx context.Context, pair *domain.Pair, side domain.OrderSide) error {
	return a.query(ctx, pair, side).Delete(&depthRow{}).Error
}

func priceOrder(side domain.OrderSide) string {
	if side == domain.SideBuy {
		return "DESC"
	}
	return "ASC"
}

func depthLevels(rows []depthRow) []domain.DepthLevel {
	levels := make([]domain.DepthLevel, len(rows))
	for i, row := range rows {
		levels[i] = domain.DepthLevel{Price: row.Price, Quantity: row.Quantity, QuantityMax: row.QuantityMax}
	}
	return levels
}
