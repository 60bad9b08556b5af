// Package infrastructure 撮合核心基础设施层：
// MySQL 仓储、Redis 深度聚合与挂单索引、Kafka 事件发布
package infrastructure

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/peiko-en/exchange/internal/matching/domain"
	"github.com/peiko-en/exchange/pkg/contextx"
)

// baseRepository 基础仓储，提供事务上下文支持
type baseRepository struct {
	db *gorm.DB
}

func (r *baseRepository) getDB(ctx context.Context) *gorm.DB {
	if tx := contextx.TxFrom(ctx); tx != nil {
		return tx
	}
	return r.db
}

// TransactionManager 事务管理器
type TransactionManager struct {
	db *gorm.DB
}

func NewTransactionManager(db *gorm.DB) *TransactionManager {
	return &TransactionManager{db: db}
}

// Transaction 开启事务，事务句柄通过 ctx 传给仓储
func (tm *TransactionManager) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(contextx.WithTx(ctx, tx))
	})
}

// --- Order Repository ---

type GormOrderRepository struct {
	baseRepository
}

func NewGormOrderRepository(db *gorm.DB) domain.OrderRepository {
	return &GormOrderRepository{baseRepository{db: db}}
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id uint64) (*domain.Order, error) {
	var order domain.Order
	err := r.getDB(ctx).WithContext(ctx).First(&order, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if err := r.attachOwners(ctx, []*domain.Order{&order}); err != nil {
		return nil, err
	}
	return &order, nil
}

// FindByIDs 结果保持传入顺序，缺失的 id 跳过
func (r *GormOrderRepository) FindByIDs(ctx context.Context, ids []uint64) ([]*domain.Order, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []*domain.Order
	err := r.getDB(ctx).WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error
	if err != nil {
		return nil, err
	}

	byID := make(map[uint64]*domain.Order, len(rows))
	for _, o := range rows {
		byID[o.ID] = o
	}

	orders := make([]*domain.Order, 0, len(rows))
	for _, id := range ids {
		if o, ok := byID[id]; ok {
			orders = append(orders, o)
		}
	}

	if err := r.attachOwners(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *GormOrderRepository) FindInWork(ctx context.Context, pairID uint64, side domain.OrderSide, afterID uint64, limit int) ([]*domain.Order, error) {
	var orders []*domain.Order
	err := r.getDB(ctx).WithContext(ctx).
		Where("pair_id = ? AND side = ? AND kind = ? AND id > ?", pairID, side, domain.KindLimit, afterID).
		Where("status IN ?", []domain.OrderStatus{domain.StatusOpen, domain.StatusMatching, domain.StatusPartiallyFilled}).
		Where("quantity > 0").
		Order("id ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *GormOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	return r.getDB(ctx).WithContext(ctx).Save(order).Error
}

func (r *GormOrderRepository) Delete(ctx context.Context, id uint64) error {
	return r.getDB(ctx).WithContext(ctx).Delete(&domain.Order{}, id).Error
}

// attachOwners 批量装载订单归属用户，结算需要机器人标记
func (r *GormOrderRepository) attachOwners(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ownerIDs := make([]uint64, 0, len(orders))
	seen := make(map[uint64]struct{}, len(orders))
	for _, o := range orders {
		if _, ok := seen[o.OwnerID]; !ok {
			seen[o.OwnerID] = struct{}{}
			ownerIDs = append(ownerIDs, o.OwnerID)
		}
	}

	var users []*domain.User
	if err := r.getDB(ctx).WithContext(ctx).Where("id IN ?", ownerIDs).Find(&users).Error; err != nil {
		return err
	}

	byID := make(map[uint64]*domain.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	for _, o := range orders {
		o.Owner = byID[o.OwnerID]
	}
	return nil
}

// --- Deal Repository ---

type GormDealRepository struct {
	baseRepository
}

func NewGormDealRepository(db *gorm.DB) domain.DealRepository {
	return &GormDealRepository{baseRepository{db: db}}
}

func (r *GormDealRepository) Create(ctx context.Context, deals []*domain.Deal) error {
	if len(deals) == 0 {
		return nil
	}
	return r.getDB(ctx).WithContext(ctx).Create(&deals).Error
}

func (r *GormDealRepository) LastPrice(ctx context.Context, pairID uint64) (decimal.Decimal, error) {
	var deal domain.Deal
	err := r.getDB(ctx).WithContext(ctx).
		Where("pair_id = ?", pairID).
		Order("id DESC").
		First(&deal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return deal.Price, nil
}

// --- User Repository ---

type GormUserRepository struct {
	baseRepository
}

func NewGormUserRepository(db *gorm.DB) domain.UserRepository {
	return &GormUserRepository{baseRepository{db: db}}
}

func (r *GormUserRepository) FindByID(ctx context.Context, id uint64) (*domain.User, error) {
	var user domain.User
	err := r.getDB(ctx).WithContext(ctx).First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *GormUserRepository) AddTradeVolumes(ctx context.Context, volumes []domain.UserVolume) error {
	db := r.getDB(ctx).WithContext(ctx)
	for _, v := range volumes {
		err := db.Table("users").
			Where("id = ?", v.OwnerID).
			UpdateColumn("trade_volume", gorm.Expr("trade_volume + ?", v.Volume)).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// --- Pair Repository ---

type GormPairRepository struct {
	baseRepository
}

func NewGormPairRepository(db *gorm.DB) domain.PairRepository {
	return &GormPairRepository{baseRepository{db: db}}
}

func (r *GormPairRepository) FindByID(ctx context.Context, id uint64) (*domain.Pair, error) {
	var pair domain.Pair
	err := r.getDB(ctx).WithContext(ctx).First(&pair, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pair, nil
}

func (r *GormPairRepository) FindBySymbol(ctx context.Context, symbol string) (*domain.Pair, error) {
	parts := splitSymbol(symbol)
	if parts == nil {
		return nil, nil
	}

	var pair domain.Pair
	err := r.getDB(ctx).WithContext(ctx).
		Where("base_asset = ? AND quote_asset = ?", parts[0], parts[1]).
		First(&pair).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pair, nil
}

func (r *GormPairRepository) UpdateLastPrice(ctx context.Context, pairID uint64, price decimal.Decimal) error {
	return r.getDB(ctx).WithContext(ctx).
		Model(&domain.Pair{}).
		Where("id = ?", pairID).
		UpdateColumn("last_price", price).Error
}

func splitSymbol(symbol string) []string {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '_' {
			return []string{symbol[:i], symbol[i+1:]}
		}
	}
	return nil
}

// --- Wallet Repository ---

type GormWalletRepository struct {
	baseRepository
}

func NewGormWalletRepository(db *gorm.DB) domain.WalletRepository {
	return &GormWalletRepository{baseRepository{db: db}}
}

func (r *GormWalletRepository) Find(ctx context.Context, ownerID uint64, asset string) (*domain.Wallet, error) {
	var wallet domain.Wallet
	err := r.getDB(ctx).WithContext(ctx).
		Where("owner_id = ? AND asset = ?", ownerID, asset).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *GormWalletRepository) Increase(ctx context.Context, ownerID uint64, asset string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	db := r.getDB(ctx).WithContext(ctx)
	res := db.Model(&domain.Wallet{}).
		Where("owner_id = ? AND asset = ?", ownerID, asset).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		wallet := &domain.Wallet{OwnerID: ownerID, Asset: asset, Balance: amount}
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}, {Name: "asset"}},
			DoUpdates: clause.Assignments(map[string]any{"balance": gorm.Expr("balance + ?", amount)}),
		}).Create(wallet).Error
	}
	return nil
}

func (r *GormWalletRepository) DecreaseFrozen(ctx context.Context, ownerID uint64, asset string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	db := r.getDB(ctx).WithContext(ctx)

	var wallet domain.Wallet
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_id = ? AND asset = ?", ownerID, asset).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrInsufficientBalance
		}
		return err
	}
	if wallet.Frozen.LessThan(amount) {
		return domain.ErrInsufficientBalance
	}

	return db.Model(&domain.Wallet{}).
		Where("id = ?", wallet.ID).
		Updates(map[string]any{
			"frozen":     gorm.Expr("frozen - ?", amount),
			"updated_at": time.Now().UTC(),
		}).Error
}

// UnfreezeRest 撤单解冻：冻结转回可用
func (r *GormWalletRepository) UnfreezeRest(ctx context.Context, ownerID uint64, asset string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	return r.getDB(ctx).WithContext(ctx).Model(&domain.Wallet{}).
		Where("owner_id = ? AND asset = ? AND frozen >= ?", ownerID, asset, amount).
		Updates(map[string]any{
			"frozen":     gorm.Expr("frozen - ?", amount),
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": time.Now().UTC(),
		}).Error
}

// --- FeeSchedule Repository ---

type GormFeeScheduleRepository struct {
	baseRepository
}

func NewGormFeeScheduleRepository(db *gorm.DB) domain.FeeScheduleRepository {
	return &GormFeeScheduleRepository{baseRepository{db: db}}
}

func (r *GormFeeScheduleRepository) FindByOwnerID(ctx context.Context, ownerID uint64) (*domain.FeeSchedule, error) {
	var schedule domain.FeeSchedule
	err := r.getDB(ctx).WithContext(ctx).
		Where("owner_id = ?", ownerID).
		First(&schedule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &schedule, nil
}

// --- FeeLedger Repository ---

type GormFeeLedgerRepository struct {
	baseRepository
}

func NewGormFeeLedgerRepository(db *gorm.DB) domain.FeeLedgerRepository {
	return &GormFeeLedgerRepository{baseRepository{db: db}}
}

func (r *GormFeeLedgerRepository) Add(ctx context.Context, entry *domain.FeeLedgerEntry) error {
	return r.getDB(ctx).WithContext(ctx).Create(entry).Error
}

// --- PriceHistory Repository ---

// PricePoint 价格历史表行
type PricePoint struct {
	ID        uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	PairID    uint64          `gorm:"column:pair_id;index;not null"`
	Price     decimal.Decimal `gorm:"column:price;type:decimal(32,18);not null"`
	Volume    decimal.Decimal `gorm:"column:volume;type:decimal(32,18);not null;default:0"`
	CreatedAt time.Time       `gorm:"column:created_at"`
}

func (PricePoint) TableName() string {
	return "price_history"
}

type GormPriceHistoryRepository struct {
	baseRepository
}

func NewGormPriceHistoryRepository(db *gorm.DB) domain.PriceHistoryRepository {
	return &GormPriceHistoryRepository{baseRepository{db: db}}
}

func (r *GormPriceHistoryRepository) Append(ctx context.Context, pairID uint64, price, volume decimal.Decimal) error {
	point := &PricePoint{PairID: pairID, Price: price, Volume: volume, CreatedAt: time.Now().UTC()}
	return r.getDB(ctx).WithContext(ctx).Create(point).Error
}

// AddVolume 把成交量累加到该交易对的最新价格点，没有价格点时不落
func (r *GormPriceHistoryRepository) AddVolume(ctx context.Context, pairID uint64, volume decimal.Decimal) error {
	db := r.getDB(ctx).WithContext(ctx)

	var point PricePoint
	err := db.Where("pair_id = ?", pairID).Order("id DESC").First(&point).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	return db.Model(&PricePoint{}).
		Where("id = ?", point.ID).
		Update("volume", gorm.Expr("volume + ?", volume)).Error
}
