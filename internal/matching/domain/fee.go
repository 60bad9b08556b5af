package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeeSchedule 用户费率表。MakerRate/TakerRate 为百分比数值，如 0.1 表示 0.1%。
type FeeSchedule struct {
	ID        uint64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	OwnerID   uint64          `gorm:"column:owner_id;uniqueIndex;not null" json:"owner_id"`
	MakerRate decimal.Decimal `gorm:"column:maker_rate;type:decimal(10,6);not null;default:0" json:"maker_rate"`
	TakerRate decimal.Decimal `gorm:"column:taker_rate;type:decimal(10,6);not null;default:0" json:"taker_rate"`
	UpdatedAt time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

// TableName 指定表名
func (FeeSchedule) TableName() string {
	return "fee_schedules"
}

// FeeRates 一次撮合内缓存的 maker/taker 费率（百分比数值，0.1 = 0.1%）
type FeeRates struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// Rate 按角色取费率
func (f FeeRates) Rate(isMaker bool) decimal.Decimal {
	if isMaker {
		return f.Maker
	}
	return f.Taker
}

// CalcFee 按百分比费率计提手续费，结果向下取整到给定精度
func CalcFee(amount, rate decimal.Decimal, precision int32) decimal.Decimal {
	return amount.Mul(rate).Div(decimal.NewFromInt(100)).RoundDown(precision)
}

// FeeLedgerEntry 手续费台账的一条记录，结算提交后写入。
// Amount 为计费基数：买方是成交数量（基础资产），卖方是货款（计价资产）。
type FeeLedgerEntry struct {
	ID        uint64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	OwnerID   uint64          `gorm:"column:owner_id;index;not null" json:"owner_id"`
	OrderID   uint64          `gorm:"column:order_id;index;not null" json:"order_id"`
	PairID    uint64          `gorm:"column:pair_id;not null" json:"pair_id"`
	Asset     string          `gorm:"column:asset;type:varchar(16);not null" json:"asset"`
	Amount    decimal.Decimal `gorm:"column:amount;type:decimal(32,18);not null" json:"amount"`
	Rate      decimal.Decimal `gorm:"column:rate;type:decimal(10,6);not null" json:"rate"`
	Fee       decimal.Decimal `gorm:"column:fee;type:decimal(32,18);not null" json:"fee"`
	CreatedAt time.Time       `gorm:"column:created_at" json:"created_at"`
}

// TableName 指定表名
func (FeeLedgerEntry) TableName() string {
	return "fees"
}
