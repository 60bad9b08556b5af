package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderRepository 订单仓储。未命中返回 nil, nil。
type OrderRepository interface {
	FindByID(ctx context.Context, id uint64) (*Order, error)
	// FindByIDs 按 id 集合装载，结果保持传入顺序，缺失的 id 跳过
	FindByIDs(ctx context.Context, ids []uint64) ([]*Order, error)
	// FindInWork 取在途限价单，按 id 升序做游标分页，用于深度重建与索引回填
	FindInWork(ctx context.Context, pairID uint64, side OrderSide, afterID uint64, limit int) ([]*Order, error)
	Save(ctx context.Context, order *Order) error
	// Delete 物理删除，仅用于零成交的机器人订单清理
	Delete(ctx context.Context, id uint64) error
}

// DealRepository 成交仓储
type DealRepository interface {
	Create(ctx context.Context, deals []*Deal) error
	LastPrice(ctx context.Context, pairID uint64) (decimal.Decimal, error)
}

// UserRepository 用户仓储
type UserRepository interface {
	FindByID(ctx context.Context, id uint64) (*User, error)
	// AddTradeVolumes 批量累加 BTC 折算成交量
	AddTradeVolumes(ctx context.Context, volumes []UserVolume) error
}

// PairRepository 交易对仓储
type PairRepository interface {
	FindByID(ctx context.Context, id uint64) (*Pair, error)
	FindBySymbol(ctx context.Context, symbol string) (*Pair, error)
	UpdateLastPrice(ctx context.Context, pairID uint64, price decimal.Decimal) error
}

// WalletRepository 钱包仓储。增减在调用方事务内执行（ctx 携带 tx）。
type WalletRepository interface {
	Find(ctx context.Context, ownerID uint64, asset string) (*Wallet, error)
	// Increase 加可用余额
	Increase(ctx context.Context, ownerID uint64, asset string, amount decimal.Decimal) error
	// DecreaseFrozen 扣冻结余额
	DecreaseFrozen(ctx context.Context, ownerID uint64, asset string, amount decimal.Decimal) error
	// UnfreezeRest 撤单时解冻剩余冻结金额
	UnfreezeRest(ctx context.Context, ownerID uint64, asset string, amount decimal.Decimal) error
}

// FeeScheduleRepository 费率仓储
type FeeScheduleRepository interface {
	FindByOwnerID(ctx context.Context, ownerID uint64) (*FeeSchedule, error)
}

// FeeLedgerRepository 手续费台账，结算提交后追加
type FeeLedgerRepository interface {
	Add(ctx context.Context, entry *FeeLedgerEntry) error
}

// IndexEntry 挂单索引中的一条记录
type IndexEntry struct {
	OrderID uint64
	Price   decimal.Decimal
}

// OrderIndexRepository 挂单账本的持久索引：
// 全量 MySQL 索引表 + 头部 Redis 有序集合。
type OrderIndexRepository interface {
	// Insert 写入 MySQL 索引表
	Insert(ctx context.Context, pair *Pair, side OrderSide, entry IndexEntry) error
	// Remove 从两层索引删除
	Remove(ctx context.Context, pair *Pair, side OrderSide, orderID uint64) error
	// RemoveBatch 批量删除
	RemoveBatch(ctx context.Context, pair *Pair, side OrderSide, orderIDs []uint64) error
	// ZAdd 写入 Redis 头部索引，分值为按计价精度折算的整数价格
	ZAdd(ctx context.Context, pair *Pair, side OrderSide, entry IndexEntry) error
	// ZPage 按撮合优先级取一页（买盘分值降序，卖盘分值升序），
	// 返回 id 与价格；同分值排序由调用方修正
	ZPage(ctx context.Context, pair *Pair, side OrderSide, offset, count int64) ([]IndexEntry, error)
	// ZBoundary 头部索引中优先级最低的成员（买盘最低价，卖盘最高价），
	// 空索引返回 nil
	ZBoundary(ctx context.Context, pair *Pair, side OrderSide) (*IndexEntry, error)
	// ChunkFromDB 从 MySQL 索引表按优先级回填一批订单 id
	ChunkFromDB(ctx context.Context, pair *Pair, side OrderSide, offset, limit int) ([]IndexEntry, error)
	// Clear 清空单侧两层索引
	Clear(ctx context.Context, pair *Pair, side OrderSide) error
}

// BotOrderStorage 做市机器人订单集合，撤单路径据此区分清理策略
type BotOrderStorage interface {
	Add(ctx context.Context, orderID uint64) error
	Remove(ctx context.Context, orderID uint64) error
	Contains(ctx context.Context, orderID uint64) (bool, error)
}

// PriceHistoryRepository 价格历史。价格变动时追加新点，
// 价格未动时把成交量累加到最新一个点上
type PriceHistoryRepository interface {
	Append(ctx context.Context, pairID uint64, price, volume decimal.Decimal) error
	AddVolume(ctx context.Context, pairID uint64, volume decimal.Decimal) error
}

// RewardProgram 成交返佣钩子，失败只记录不回滚
type RewardProgram interface {
	OnDeal(ctx context.Context, deal *Deal) error
}

// TxManager 事务管理器，fn 内通过 ctx 取事务句柄
type TxManager interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}
