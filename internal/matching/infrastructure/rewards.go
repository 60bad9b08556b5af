package infrastructure

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/peiko-en/exchange/internal/matching/domain"
)

// rewardAccrual 交易挖矿返佣流水
type rewardAccrual struct {
	ID        uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	OwnerID   uint64          `gorm:"column:owner_id;index;not null"`
	OrderID   uint64          `gorm:"column:order_id;not null"`
	PairID    uint64          `gorm:"column:pair_id;not null"`
	Amount    decimal.Decimal `gorm:"column:amount;type:decimal(32,18);not null"`
	CreatedAt time.Time       `gorm:"column:created_at"`
}

func (rewardAccrual) TableName() string {
	return "reward_accruals"
}

// GormRewardProgram 按成交额比例计提返佣。结算事务之外执行，
// 失败由调用方记录，不影响已落定的成交。
type GormRewardProgram struct {
	baseRepository
	// rate 返佣比例，百分比数值
	rate decimal.Decimal
}

func NewGormRewardProgram(db *gorm.DB, rate decimal.Decimal) domain.RewardProgram {
	return &GormRewardProgram{baseRepository{db: db}, rate}
}

func (r *GormRewardProgram) OnDeal(ctx context.Context, deal *domain.Deal) error {
	amount := domain.CalcFee(deal.Quantity.Mul(deal.Price), r.rate, 18)
	if !amount.IsPositive() {
		return nil
	}

	accrual := &rewardAccrual{
		OwnerID:   deal.OwnerID,
		OrderID:   deal.OrderID,
		PairID:    deal.PairID,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
	return r.getDB(ctx).WithContext(ctx).Create(accrual).Error
}
