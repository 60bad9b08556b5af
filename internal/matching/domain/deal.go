package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Deal 成交记录，买卖双方各落一行
type Deal struct {
	ID          uint64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	PairID      uint64          `gorm:"column:pair_id;index;not null" json:"pair_id"`
	OrderID     uint64          `gorm:"column:order_id;index;not null" json:"order_id"`
	OwnerID     uint64          `gorm:"column:owner_id;index;not null" json:"owner_id"`
	Side        OrderSide       `gorm:"column:side;type:varchar(10);not null" json:"side"`
	Price       decimal.Decimal `gorm:"column:price;type:decimal(32,18);not null" json:"price"`
	Quantity    decimal.Decimal `gorm:"column:quantity;type:decimal(32,18);not null" json:"quantity"`
	Amount      decimal.Decimal `gorm:"column:amount;type:decimal(32,18);not null" json:"amount"`
	Fee         decimal.Decimal `gorm:"column:fee;type:decimal(32,18);not null;default:0" json:"fee"`
	IsMaker     bool            `gorm:"column:is_maker;not null" json:"is_maker"`
	CounterID   uint64          `gorm:"column:counter_id;not null" json:"counter_id"`
	CreatedAt   time.Time       `gorm:"column:created_at" json:"created_at"`
}

// TableName 指定表名
func (Deal) TableName() string {
	return "deals"
}
