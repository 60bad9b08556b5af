package domain

import "errors"

var (
	// ErrSettlementFailed 结算事务失败，整轮撮合终止
	ErrSettlementFailed = errors.New("settlement failed")
	// ErrBookInconsistent 账本索引与订单表不一致，触发清理重试
	ErrBookInconsistent = errors.New("order book inconsistent")
	// ErrQuantityExceeded 扣减量超过剩余数量
	ErrQuantityExceeded = errors.New("decrease quantity exceeds remaining")
	// ErrPairNotFound 交易对不存在或未启用
	ErrPairNotFound = errors.New("pair not found")
	// ErrOrderNotFound 订单不存在
	ErrOrderNotFound = errors.New("order not found")
	// ErrInsufficientBalance 余额不足
	ErrInsufficientBalance = errors.New("insufficient balance")
)
