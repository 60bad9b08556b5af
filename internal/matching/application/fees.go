// Package application 撮合与清算的应用服务
package application

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/peiko-en/exchange/internal/matching/domain"
)

// FeeManager 费率解析器。本身无可变状态，可被多个交易对的撮合 goroutine 共享；
// 每轮撮合通过 Begin 派生一份过程内缓存，同一轮内每个用户只查一次库。
type FeeManager struct {
	schedules domain.FeeScheduleRepository
	logger    *slog.Logger
}

func NewFeeManager(schedules domain.FeeScheduleRepository, logger *slog.Logger) *FeeManager {
	return &FeeManager{
		schedules: schedules,
		logger:    logger.With("module", "fee_manager"),
	}
}

// Begin 开启一轮撮合的费率缓存
func (m *FeeManager) Begin() *FeePass {
	return &FeePass{
		manager: m,
		cache:   make(map[uint64]domain.FeeRates),
	}
}

func (m *FeeManager) resolve(ctx context.Context, user *domain.User) domain.FeeRates {
	schedule, err := m.schedules.FindByOwnerID(ctx, user.ID)
	if err != nil {
		m.logger.ErrorContext(ctx, "resolve fee schedule failed, fallback to zero rate",
			"owner_id", user.ID, "error", err)
		return domain.FeeRates{}
	}
	if schedule == nil {
		return domain.FeeRates{}
	}
	return domain.FeeRates{Maker: schedule.MakerRate, Taker: schedule.TakerRate}
}

// FeePass 单轮撮合的费率缓存，只在本轮的撮合 goroutine 内使用。
// 查询失败降级为零费率，只记录不中断撮合。
type FeePass struct {
	manager *FeeManager
	cache   map[uint64]domain.FeeRates
}

// GetTakerFee taker 费率
func (p *FeePass) GetTakerFee(ctx context.Context, user *domain.User) decimal.Decimal {
	return p.GetFee(ctx, user, true)
}

// GetMakerFee maker 费率
func (p *FeePass) GetMakerFee(ctx context.Context, user *domain.User) decimal.Decimal {
	return p.GetFee(ctx, user, false)
}

// GetFee 按角色取费率
func (p *FeePass) GetFee(ctx context.Context, user *domain.User, isTaker bool) decimal.Decimal {
	rates, ok := p.cache[user.ID]
	if !ok {
		rates = p.manager.resolve(ctx, user)
		p.cache[user.ID] = rates
	}
	if isTaker {
		return rates.Taker
	}
	return rates.Maker
}
