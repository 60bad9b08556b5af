package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Pair 交易对实体。BasePrecision 约束数量（基础资产），
// QuotePrecision 约束价格与金额（计价资产）。
type Pair struct {
	ID            uint64 `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	BaseAsset     string `gorm:"column:base_asset;type:varchar(16);not null" json:"base_asset"`
	QuoteAsset    string `gorm:"column:quote_asset;type:varchar(16);not null" json:"quote_asset"`
	BasePrecision int32  `gorm:"column:base_precision;not null" json:"base_precision"`
	// QuotePrecision 同时决定深度索引的整数分值倍率
	QuotePrecision int32           `gorm:"column:quote_precision;not null" json:"quote_precision"`
	LastPrice      decimal.Decimal `gorm:"column:last_price;type:decimal(32,18);not null;default:0" json:"last_price"`
	// BtcRate 基础资产对 BTC 的折算率，用于成交量统计
	BtcRate decimal.Decimal `gorm:"column:btc_rate;type:decimal(32,18);not null;default:0" json:"btc_rate"`
	Enabled bool            `gorm:"column:enabled;not null;default:1" json:"enabled"`
}

// TableName 指定表名
func (Pair) TableName() string {
	return "pairs"
}

// Symbol 组合符号，如 BTC_USDT
func (p *Pair) Symbol() string {
	return fmt.Sprintf("%s_%s", p.BaseAsset, p.QuoteAsset)
}

// PriceMultiplier 价格转整数分值的倍率 10^QuotePrecision
func (p *Pair) PriceMultiplier() decimal.Decimal {
	return decimal.New(1, p.QuotePrecision)
}

// PriceScore 按计价精度把价格折成整数分值
func (p *Pair) PriceScore(price decimal.Decimal) int64 {
	return price.Mul(p.PriceMultiplier()).IntPart()
}

// ScorePrice 分值还原为价格
func (p *Pair) ScorePrice(score int64) decimal.Decimal {
	return decimal.New(score, -p.QuotePrecision)
}
