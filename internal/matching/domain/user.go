package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// User 交易用户
type User struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Email     string    `gorm:"column:email;type:varchar(128);uniqueIndex;not null" json:"email"`
	IsBot     bool      `gorm:"column:is_bot;not null;default:0" json:"is_bot"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// Wallet 用户的单币种钱包
type Wallet struct {
	ID      uint64 `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	OwnerID uint64 `gorm:"column:owner_id;uniqueIndex:uk_owner_asset;not null" json:"owner_id"`
	Asset   string `gorm:"column:asset;type:varchar(16);uniqueIndex:uk_owner_asset;not null" json:"asset"`
	// Balance 可用余额
	Balance decimal.Decimal `gorm:"column:balance;type:decimal(32,18);not null;default:0" json:"balance"`
	// Frozen 下单冻结余额
	Frozen    decimal.Decimal `gorm:"column:frozen;type:decimal(32,18);not null;default:0" json:"frozen"`
	UpdatedAt time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

// TableName 指定表名
func (Wallet) TableName() string {
	return "wallets"
}

// UserVolume 撮合过程中累计的用户成交量（BTC 折算），批量落库
type UserVolume struct {
	OwnerID uint64
	Volume  decimal.Decimal
}
