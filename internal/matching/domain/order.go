// Package domain 撮合核心的领域模型
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide 买卖方向
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Opposite 返回对手方向
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderKind 订单类型
type OrderKind string

const (
	KindLimit  OrderKind = "LIMIT"
	KindMarket OrderKind = "MARKET"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	// StatusOpen 已接单，尚未进入撮合
	StatusOpen OrderStatus = "OPEN"
	// StatusMatching 已被撮合器领取，正在撮合
	StatusMatching OrderStatus = "MATCHING"
	// StatusPartiallyFilled 部分成交
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	// StatusFilled 完全成交
	StatusFilled OrderStatus = "FILLED"
	// StatusPendingCancel 用户请求撤单，等待撮合器确认
	StatusPendingCancel OrderStatus = "PENDING_CANCEL"
	// StatusCancelled 已撤单
	StatusCancelled OrderStatus = "CANCELLED"
	// StatusFailed 撮合失败
	StatusFailed OrderStatus = "FAILED"
)

// Order 订单实体，直接映射 orders 表
type Order struct {
	ID      uint64 `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	PairID  uint64 `gorm:"column:pair_id;index;not null" json:"pair_id"`
	OwnerID uint64 `gorm:"column:owner_id;index;not null" json:"owner_id"`
	// 买卖方向
	Side OrderSide `gorm:"column:side;type:varchar(10);not null" json:"side"`
	// 订单类型
	Kind OrderKind `gorm:"column:kind;type:varchar(10);not null" json:"kind"`
	// 委托价格，市价单为零
	Price decimal.Decimal `gorm:"column:price;type:decimal(32,18);not null" json:"price"`
	// 原始委托数量
	QuantityStart decimal.Decimal `gorm:"column:quantity_start;type:decimal(32,18);not null" json:"quantity_start"`
	// 剩余数量
	Quantity decimal.Decimal `gorm:"column:quantity;type:decimal(32,18);not null" json:"quantity"`
	// 累计手续费
	FeeAmount decimal.Decimal `gorm:"column:fee_amount;type:decimal(32,18);not null;default:0" json:"fee_amount"`
	// 市价买单预留的计价资产余额
	ReservedAmount decimal.Decimal `gorm:"column:reserved_amount;type:decimal(32,18);not null;default:0" json:"reserved_amount"`
	// 订单状态
	Status     OrderStatus `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	CreatedAt  time.Time   `gorm:"column:created_at" json:"created_at"`
	FinishedAt *time.Time  `gorm:"column:finished_at" json:"finished_at"`

	// 关联对象由仓储装载，不参与持久化
	Pair  *Pair `gorm:"-" json:"-"`
	Owner *User `gorm:"-" json:"-"`

	dirty bool
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}

func (o *Order) IsBuy() bool    { return o.Side == SideBuy }
func (o *Order) IsSell() bool   { return o.Side == SideSell }
func (o *Order) IsLimit() bool  { return o.Kind == KindLimit }
func (o *Order) IsMarket() bool { return o.Kind == KindMarket }

// InWork 订单是否仍可参与撮合
func (o *Order) InWork() bool {
	switch o.Status {
	case StatusOpen, StatusMatching, StatusPartiallyFilled:
		return o.Quantity.IsPositive()
	}
	return false
}

// IsCompleted 订单是否已完全成交
func (o *Order) IsCompleted() bool {
	return o.Status == StatusFilled || o.Quantity.LessThanOrEqual(decimal.Zero)
}

// IsPendingCancel 订单是否处于等待撤单状态
func (o *Order) IsPendingCancel() bool {
	return o.Status == StatusPendingCancel
}

// CompletedQuantity 已成交数量
func (o *Order) CompletedQuantity() decimal.Decimal {
	return o.QuantityStart.Sub(o.Quantity)
}

// Decrease 扣减剩余数量。扣减量不得超过剩余数量，剩余数量不会为负。
func (o *Order) Decrease(qty decimal.Decimal) error {
	if qty.GreaterThan(o.Quantity) {
		return ErrQuantityExceeded
	}

	o.Quantity = o.Quantity.Sub(qty)
	if o.Quantity.IsZero() {
		o.fill()
	} else if o.Status == StatusMatching {
		o.Status = StatusPartiallyFilled
	}
	o.dirty = true
	return nil
}

// IncreaseFee 累加手续费，按给定精度截断
func (o *Order) IncreaseFee(amount decimal.Decimal, precision int32) {
	o.FeeAmount = o.FeeAmount.Add(amount).RoundDown(precision)
	o.dirty = true
}

// DecreaseReserved 扣减市价买单的预留金额
func (o *Order) DecreaseReserved(amount decimal.Decimal, precision int32) {
	o.ReservedAmount = o.ReservedAmount.Sub(amount).RoundDown(precision)
	if o.ReservedAmount.IsNegative() {
		o.ReservedAmount = decimal.Zero
	}
	o.dirty = true
}

// MarkMatching 标记订单进入撮合
func (o *Order) MarkMatching() {
	o.Status = StatusMatching
	o.dirty = true
}

// Cancel 撤单
func (o *Order) Cancel() {
	o.Status = StatusCancelled
	o.finish()
	o.dirty = true
}

// PartlyComplete 市价单收尾：有成交但未吃完
func (o *Order) PartlyComplete() {
	o.Status = StatusPartiallyFilled
	o.finish()
	o.dirty = true
}

// CheckCompleted 剩余数量为零时落入终态，返回是否已终结
func (o *Order) CheckCompleted() bool {
	if o.Quantity.LessThanOrEqual(decimal.Zero) && o.Status != StatusFilled {
		o.fill()
		o.dirty = true
	}
	return o.IsCompleted()
}

// IsDirty 订单自装载以来是否被修改
func (o *Order) IsDirty() bool {
	return o.dirty
}

// MarkClean 重置脏标记（持久化之后调用）
func (o *Order) MarkClean() {
	o.dirty = false
}

func (o *Order) fill() {
	o.Status = StatusFilled
	o.finish()
}

func (o *Order) finish() {
	if o.FinishedAt == nil {
		now := time.Now().UTC()
		o.FinishedAt = &now
	}
}
