package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peiko-en/exchange/internal/matching/domain"
)

type rebuildDeps struct {
	depth  *memDepth
	index  *memIndex
	orders *memOrders
	deals  *memDeals
	pairs  *memPairs
	bots   *memBots
}

func rebuildFixture(liquidityBotID uint64) (*BookRebuilder, *rebuildDeps) {
	deps := &rebuildDeps{
		depth:  newMemDepth(),
		index:  newMemIndex(),
		orders: newMemOrders(),
		deals:  &memDeals{},
		pairs:  &memPairs{},
		bots:   newMemBots(),
	}
	r := NewBookRebuilder(
		deps.depth, deps.index, deps.orders, deps.deals, deps.pairs, deps.bots,
		liquidityBotID, testLogger())
	return r, deps
}

func TestRecalculateRebuildsDepthFromOrders(t *testing.T) {
	ctx := context.Background()
	pair := testPair()
	r, deps := rebuildFixture(0)

	deps.orders.byID[1] = limitOrder(1, 11, domain.SideBuy, "10", "5")
	deps.orders.byID[2] = limitOrder(2, 12, domain.SideBuy, "10", "3")
	deps.orders.byID[3] = limitOrder(3, 13, domain.SideSell, "11", "4")
	// 非在途与市价不参与
	done := limitOrder(4, 14, domain.SideBuy, "10", "0")
	done.Status = domain.StatusFilled
	deps.orders.byID[4] = done
	deps.orders.byID[5] = marketOrder(5, 15, domain.SideSell, "2")

	// 先制造脏深度
	require.NoError(t, deps.depth.Add(ctx, pair, domain.SideBuy, dec("9"), dec("100")))

	require.NoError(t, r.Recalculate(ctx, pair))

	bids, err := deps.depth.Get(ctx, pair, domain.SideBuy, 10, 0)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.True(t, bids[0].Price.Equal(dec("10")))
	assert.True(t, bids[0].Quantity.Equal(dec("8")))

	asks, err := deps.depth.Get(ctx, pair, domain.SideSell, 10, 0)
	require.NoError(t, err)
	require.Len(t, asks, 1)
	assert.True(t, asks[0].Quantity.Equal(dec("4")))
}

// 对已一致的订单簿重建是幂等的
func TestRecalculateIdempotent(t *testing.T) {
	ctx := context.Background()
	pair := testPair()
	r, deps := rebuildFixture(0)

	deps.orders.byID[1] = limitOrder(1, 11, domain.SideBuy, "10", "5")

	require.NoError(t, r.Recalculate(ctx, pair))
	first, err := deps.depth.Get(ctx, pair, domain.SideBuy, 10, 0)
	require.NoError(t, err)

	require.NoError(t, r.Recalculate(ctx, pair))
	second, err := deps.depth.Get(ctx, pair, domain.SideBuy, 10, 0)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	assert.True(t, first[0].Quantity.Equal(second[0].Quantity))
	assert.True(t, first[0].QuantityMax.Equal(second[0].QuantityMax))
}

func TestSyncRebuildsIndexAndBotSet(t *testing.T) {
	ctx := context.Background()
	pair := testPair()
	const botID = 42
	r, deps := rebuildFixture(botID)

	deps.orders.byID[1] = limitOrder(1, 11, domain.SideBuy, "10", "5")
	deps.orders.byID[2] = limitOrder(2, botID, domain.SideBuy, "9", "2")
	deps.orders.byID[3] = limitOrder(3, 13, domain.SideSell, "11", "4")

	// 索引里的旧数据要被清掉
	require.NoError(t, deps.index.Insert(ctx, pair, domain.SideBuy, domain.IndexEntry{OrderID: 99, Price: dec("1")}))

	require.NoError(t, r.Sync(ctx, pair))

	require.Len(t, deps.index.table[domain.SideBuy], 2)
	require.Len(t, deps.index.table[domain.SideSell], 1)
	for _, e := range deps.index.table[domain.SideBuy] {
		assert.NotEqual(t, uint64(99), e.OrderID)
	}

	ok, err := deps.bots.Contains(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = deps.bots.Contains(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	bids, err := deps.depth.Get(ctx, pair, domain.SideBuy, 10, 0)
	require.NoError(t, err)
	assert.Len(t, bids, 2)
}

// 交易对没有最新价时从成交流水恢复
func TestSyncRecoversLastPriceFromDeals(t *testing.T) {
	ctx := context.Background()
	pair := testPair()
	r, deps := rebuildFixture(0)
	deps.deals.created = []*domain.Deal{{PairID: pair.ID, Price: dec("123.45")}}

	require.NoError(t, r.Sync(ctx, pair))

	assert.True(t, pair.LastPrice.Equal(dec("123.45")))
	assert.Equal(t, 1, deps.pairs.updates)
	assert.True(t, deps.pairs.lastPrice.Equal(dec("123.45")))
}

// 已有最新价时不回查成交流水
func TestSyncKeepsKnownLastPrice(t *testing.T) {
	ctx := context.Background()
	pair := testPair()
	pair.LastPrice = dec("10")
	r, deps := rebuildFixture(0)
	deps.deals.created = []*domain.Deal{{PairID: pair.ID, Price: dec("123.45")}}

	require.NoError(t, r.Sync(ctx, pair))

	assert.True(t, pair.LastPrice.Equal(dec("10")))
	assert.Equal(t, 0, deps.pairs.updates)
}
