package common_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimir/internal/common"
)

func TestOrderFillAccounting(t *testing.T) {
	order := common.NewOrder(common.GoodTillCancel, 1, common.Buy, 100, 10)

	require.NoError(t, order.Fill(4))
	assert.Equal(t, common.Quantity(6), order.Remaining())
	assert.Equal(t, common.Quantity(4), order.Filled())
	assert.Equal(t, common.Quantity(10), order.Initial())
	assert.False(t, order.IsFilled())

	require.NoError(t, order.Fill(6))
	assert.True(t, order.IsFilled())
}

func TestOrderFillOverfillRejected(t *testing.T) {
	order := common.NewOrder(common.GoodTillCancel, 1, common.Buy, 100, 10)

	err := order.Fill(11)
	assert.ErrorIs(t, err, common.ErrOverfill)
	assert.Equal(t, common.Quantity(10), order.Remaining())
}

func TestMarketOrderPromotion(t *testing.T) {
	order := common.NewMarketOrder(1, common.Sell, 10)
	assert.Equal(t, common.InvalidPrice, order.Price())
	assert.Equal(t, common.Market, order.Type())

	require.NoError(t, order.ToGoodTillCancel(97))
	assert.Equal(t, common.Price(97), order.Price())
	assert.Equal(t, common.GoodTillCancel, order.Type())

	// The transition is one-way.
	assert.ErrorIs(t, order.ToGoodTillCancel(98), common.ErrNotMarketOrder)
}

func TestPromotionRejectedForLimitOrders(t *testing.T) {
	order := common.NewOrder(common.FillOrKill, 1, common.Buy, 100, 10)
	assert.ErrorIs(t, order.ToGoodTillCancel(101), common.ErrNotMarketOrder)
	assert.Equal(t, common.Price(100), order.Price())
}

func TestModifyToOrderKeepsType(t *testing.T) {
	mod := common.Modify{ID: 5, Side: common.Sell, Price: 103, Quantity: 20}
	order := mod.ToOrder(common.GoodForDay)

	assert.Equal(t, common.OrderID(5), order.ID())
	assert.Equal(t, common.GoodForDay, order.Type())
	assert.Equal(t, common.Sell, order.Side())
	assert.Equal(t, common.Price(103), order.Price())
	assert.Equal(t, common.Quantity(20), order.Initial())
	assert.Equal(t, common.Quantity(20), order.Remaining())
}
