package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peiko-en/exchange/internal/matching/domain"
)

func TestBotOrderCloserStrategies(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	bots := newMemBots(1, 2, 3, 4)
	closer := NewBotOrderCloser(f.trading, f.orders, bots, testLogger())

	filled := limitOrder(1, 11, domain.SideSell, "10", "0")
	filled.QuantityStart = dec("5")
	filled.Status = domain.StatusFilled
	f.orders.byID[1] = filled

	untouched := limitOrder(2, 11, domain.SideSell, "11", "5")
	f.seedMaker(ctx, untouched)

	partial := limitOrder(3, 11, domain.SideSell, "12", "3")
	partial.QuantityStart = dec("5")
	f.seedMaker(ctx, partial)

	require.NoError(t, closer.Close(ctx, f.pair, []uint64{1, 2, 3, 4}))

	// 已成交的不动
	assert.Equal(t, domain.StatusFilled, f.orders.byID[1].Status)

	// 零成交的物理删除
	assert.Contains(t, f.orders.deleted, uint64(2))

	// 有成交的按撤单保留历史
	assert.Equal(t, domain.StatusCancelled, f.orders.byID[3].Status)

	// 账本与深度同步摘除
	assert.Empty(t, f.index.table[domain.SideSell])
	for _, price := range []string{"11", "12"} {
		level, err := f.depth.GetByPrice(ctx, f.pair, domain.SideSell, dec(price))
		require.NoError(t, err)
		assert.Nil(t, level)
	}

	// 机器人集合全量清理，包括已不存在的 id
	for id := uint64(1); id <= 4; id++ {
		ok, err := bots.Contains(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	assert.Len(t, f.publisher.depths, 1)
}

// 批次混合买卖两侧时各自从自己一侧的账本与深度摘除
func TestBotOrderCloserMixedSides(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	bots := newMemBots(1, 2)
	closer := NewBotOrderCloser(f.trading, f.orders, bots, testLogger())

	bid := limitOrder(1, 11, domain.SideBuy, "10", "5")
	f.seedMaker(ctx, bid)
	ask := limitOrder(2, 11, domain.SideSell, "12", "5")
	f.seedMaker(ctx, ask)

	require.NoError(t, closer.Close(ctx, f.pair, []uint64{1, 2}))

	assert.Empty(t, f.index.table[domain.SideBuy])
	assert.Empty(t, f.index.table[domain.SideSell])

	bidLevel, err := f.depth.GetByPrice(ctx, f.pair, domain.SideBuy, dec("10"))
	require.NoError(t, err)
	assert.Nil(t, bidLevel)
	askLevel, err := f.depth.GetByPrice(ctx, f.pair, domain.SideSell, dec("12"))
	require.NoError(t, err)
	assert.Nil(t, askLevel)
}

func TestBotOrderCloserEmptyBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	bots := newMemBots()
	closer := NewBotOrderCloser(f.trading, f.orders, bots, testLogger())

	require.NoError(t, closer.Close(ctx, f.pair, nil))
	assert.Empty(t, f.publisher.depths)
}
