package book_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimir/internal/book"
	"mimir/internal/common"
)

// --- Setup & Helpers --------------------------------------------------------

func createTestBook(t *testing.T, opts ...book.Option) *book.Book {
	b := book.New(opts...)
	t.Cleanup(func() {
		assert.NoError(t, b.Close())
	})
	return b
}

// placeTestOrders inserts a batch of good-till-cancel orders at a price/side
// with sequential ids starting at firstID.
func placeTestOrders(b *book.Book, firstID common.OrderID, price common.Price, side common.Side, quantities ...common.Quantity) {
	for i, qty := range quantities {
		b.AddOrder(common.NewOrder(common.GoodTillCancel, firstID+common.OrderID(i), side, price, qty))
	}
}

func level(price common.Price, qty common.Quantity) common.LevelInfo {
	return common.LevelInfo{Price: price, Quantity: qty}
}

// --- Admission & matching ---------------------------------------------------

func TestAddOrder_BasicCross(t *testing.T) {
	b := createTestBook(t)

	trades := b.AddOrder(common.NewOrder(common.GoodTillCancel, 1, common.Buy, 100, 10))
	assert.Empty(t, trades)

	trades = b.AddOrder(common.NewOrder(common.GoodTillCancel, 2, common.Sell, 100, 10))
	require.Len(t, trades, 1)
	assert.Equal(t, common.TradeInfo{OrderID: 1, Price: 100, Quantity: 10}, trades[0].Bid)
	assert.Equal(t, common.TradeInfo{OrderID: 2, Price: 100, Quantity: 10}, trades[0].Ask)

	assert.Equal(t, 0, b.Size())
	depth := b.GetOrderInfos()
	assert.Empty(t, depth.Bids)
	assert.Empty(t, depth.Asks)
}

func TestAddOrder_PartialFillLeavesResidual(t *testing.T) {
	b := createTestBook(t)

	b.AddOrder(common.NewOrder(common.GoodTillCancel, 1, common.Buy, 100, 10))
	trades := b.AddOrder(common.NewOrder(common.GoodTillCancel, 2, common.Sell, 100, 6))

	require.Len(t, trades, 1)
	assert.Equal(t, common.Quantity(6), trades[0].Bid.Quantity)

	assert.Equal(t, 1, b.Size())
	depth := b.GetOrderInfos()
	assert.Equal(t, []common.LevelInfo{level(100, 4)}, depth.Bids)
	assert.Empty(t, depth.Asks)
}

func TestAddOrder_DuplicateIDIgnored(t *testing.T) {
	b := createTestBook(t)

	b.AddOrder(common.NewOrder(common.GoodTillCancel, 1, common.Buy, 100, 10))
	trades := b.AddOrder(common.NewOrder(common.GoodTillCancel, 1, common.Sell, 100, 10))

	assert.Empty(t, trades)
	assert.Equal(t, 1, b.Size())
	assert.Equal(t, []common.LevelInfo{level(100, 10)}, b.GetOrderInfos().Bids)
}

func TestAddOrder_NoCrossNoTrades(t *testing.T) {
	b := createTestBook(t)

	placeTestOrders(b, 1, 99, common.Buy, 100, 90, 80)
	trades := b.AddOrder(common.NewOrder(common.GoodTillCancel, 10, common.Sell, 100, 50))

	assert.Empty(t, trades)
	assert.Equal(t, 4, b.Size())

	depth := b.GetOrderInfos()
	assert.Equal(t, []common.LevelInfo{level(99, 270)}, depth.Bids)
	assert.Equal(t, []common.LevelInfo{level(100, 50)}, depth.Asks)
}

func TestAddOrder_SweepMultipleLevels(t *testing.T) {
	b := createTestBook(t)

	placeTestOrders(b, 1, 99, common.Buy, 100, 90, 80)
	placeTestOrders(b, 4, 98, common.Buy, 50)
	placeTestOrders(b, 5, 100, common.Sell, 100, 90)
	placeTestOrders(b, 7, 101, common.Sell, 20)

	// Deep into the book: consumes all of level 100 and part of 101.
	trades := b.AddOrder(common.NewOrder(common.GoodTillCancel, 10, common.Buy, 103, 200))
	require.Len(t, trades, 3)
	assert.Equal(t, common.Quantity(200), trades.TotalQuantity())

	depth := b.GetOrderInfos()
	assert.Equal(t, []common.LevelInfo{level(101, 10)}, depth.Asks)
	assert.Equal(t, []common.LevelInfo{level(99, 270), level(98, 50)}, depth.Bids)
}

func TestAddOrder_TimePriorityWithinLevel(t *testing.T) {
	b := createTestBook(t)

	placeTestOrders(b, 1, 100, common.Buy, 10, 10, 10)
	trades := b.AddOrder(common.NewOrder(common.GoodTillCancel, 4, common.Sell, 100, 15))

	require.Len(t, trades, 2)
	assert.Equal(t, common.OrderID(1), trades[0].Bid.OrderID)
	assert.Equal(t, common.Quantity(10), trades[0].Bid.Quantity)
	assert.Equal(t, common.OrderID(2), trades[1].Bid.OrderID)
	assert.Equal(t, common.Quantity(5), trades[1].Bid.Quantity)

	// The partially filled second arrival stays at the head.
	assert.Equal(t, []common.LevelInfo{level(100, 15)}, b.GetOrderInfos().Bids)
}

// --- Conditional order types ------------------------------------------------

func TestAddOrder_FillAndKillNoCross(t *testing.T) {
	b := createTestBook(t)

	trades := b.AddOrder(common.NewOrder(common.FillAndKill, 1, common.Buy, 99, 5))

	assert.Empty(t, trades)
	assert.Equal(t, 0, b.Size())
	assert.Empty(t, b.GetOrderInfos().Bids)
}

func TestAddOrder_FillAndKillResidualCancelled(t *testing.T) {
	b := createTestBook(t)

	placeTestOrders(b, 1, 100, common.Sell, 6)
	trades := b.AddOrder(common.NewOrder(common.FillAndKill, 2, common.Buy, 100, 10))

	require.Len(t, trades, 1)
	assert.Equal(t, common.Quantity(6), trades[0].Bid.Quantity)

	// The unfilled remainder must not rest.
	assert.Equal(t, 0, b.Size())
	assert.Empty(t, b.GetOrderInfos().Bids)
	assert.Empty(t, b.GetOrderInfos().Asks)
}

func TestAddOrder_FillOrKillInsufficientDepth(t *testing.T) {
	b := createTestBook(t)

	placeTestOrders(b, 1, 100, common.Sell, 3)
	placeTestOrders(b, 2, 101, common.Sell, 3)

	trades := b.AddOrder(common.NewOrder(common.FillOrKill, 3, common.Buy, 101, 10))

	assert.Empty(t, trades)
	assert.Equal(t, 2, b.Size())
	assert.Equal(t, []common.LevelInfo{level(100, 3), level(101, 3)}, b.GetOrderInfos().Asks)
}

func TestAddOrder_FillOrKillSufficientDepth(t *testing.T) {
	b := createTestBook(t)

	placeTestOrders(b, 1, 100, common.Sell, 3)
	placeTestOrders(b, 2, 101, common.Sell, 3)
	placeTestOrders(b, 3, 102, common.Sell, 5)

	trades := b.AddOrder(common.NewOrder(common.FillOrKill, 4, common.Buy, 101, 6))

	require.Len(t, trades, 2)
	assert.Equal(t, common.Quantity(6), trades.TotalQuantity())
	assert.Equal(t, common.Price(100), trades[0].Ask.Price)
	assert.Equal(t, common.Price(101), trades[1].Ask.Price)

	// Levels 100 and 101 fully consumed, 102 untouched.
	assert.Equal(t, []common.LevelInfo{level(102, 5)}, b.GetOrderInfos().Asks)
}

func TestAddOrder_FillOrKillIgnoresNonCrossableLiquidity(t *testing.T) {
	b := createTestBook(t)

	// Bid-side liquidity must not count toward a buy's feasibility.
	placeTestOrders(b, 1, 95, common.Buy, 50)
	placeTestOrders(b, 2, 100, common.Sell, 4)

	trades := b.AddOrder(common.NewOrder(common.FillOrKill, 3, common.Buy, 100, 10))

	assert.Empty(t, trades)
	assert.Equal(t, 2, b.Size())
}

func TestAddOrder_MarketPromotedToWorstOppositeAndRests(t *testing.T) {
	b := createTestBook(t)

	placeTestOrders(b, 1, 100, common.Sell, 2)
	placeTestOrders(b, 2, 101, common.Sell, 3)

	trades := b.AddOrder(common.NewMarketOrder(3, common.Buy, 10))

	require.Len(t, trades, 2)
	assert.Equal(t, common.TradeInfo{OrderID: 1, Price: 100, Quantity: 2}, trades[0].Ask)
	assert.Equal(t, common.TradeInfo{OrderID: 2, Price: 101, Quantity: 3}, trades[1].Ask)
	// The promoted buyer trades at its assigned worst-ask price throughout.
	assert.Equal(t, common.TradeInfo{OrderID: 3, Price: 101, Quantity: 2}, trades[0].Bid)

	// Residual rests as good-till-cancel at the promotion price.
	assert.Equal(t, 1, b.Size())
	depth := b.GetOrderInfos()
	assert.Equal(t, []common.LevelInfo{level(101, 5)}, depth.Bids)
	assert.Empty(t, depth.Asks)
}

func TestAddOrder_MarketAgainstEmptySideRejected(t *testing.T) {
	b := createTestBook(t)

	trades := b.AddOrder(common.NewMarketOrder(1, common.Buy, 10))

	assert.Empty(t, trades)
	assert.Equal(t, 0, b.Size())
}

// --- Cancel & modify --------------------------------------------------------

func TestCancelOrder_RemovesRestingOrder(t *testing.T) {
	b := createTestBook(t)

	placeTestOrders(b, 1, 100, common.Buy, 10, 20)
	b.CancelOrder(1)

	assert.Equal(t, 1, b.Size())
	assert.Equal(t, []common.LevelInfo{level(100, 20)}, b.GetOrderInfos().Bids)

	// The level disappears with its last order.
	b.CancelOrder(2)
	assert.Equal(t, 0, b.Size())
	assert.Empty(t, b.GetOrderInfos().Bids)
}

func TestCancelOrder_Idempotent(t *testing.T) {
	b := createTestBook(t)

	b.CancelOrder(42)
	assert.Equal(t, 0, b.Size())

	placeTestOrders(b, 1, 100, common.Buy, 10)
	b.CancelOrder(1)
	b.CancelOrder(1)

	assert.Equal(t, 0, b.Size())
	assert.Empty(t, b.GetOrderInfos().Bids)
}

func TestCancelOrder_CancelledOrderNoLongerMatches(t *testing.T) {
	b := createTestBook(t)

	placeTestOrders(b, 1, 100, common.Buy, 10)
	b.CancelOrder(1)

	trades := b.AddOrder(common.NewOrder(common.GoodTillCancel, 2, common.Sell, 100, 10))
	assert.Empty(t, trades)
	assert.Equal(t, 1, b.Size())
}

func TestModifyOrder_UnknownIDIgnored(t *testing.T) {
	b := createTestBook(t)

	trades := b.ModifyOrder(common.Modify{ID: 7, Side: common.Buy, Price: 100, Quantity: 5})

	assert.Empty(t, trades)
	assert.Equal(t, 0, b.Size())
}

func TestModifyOrder_ResetsTimePriority(t *testing.T) {
	b := createTestBook(t)

	placeTestOrders(b, 1, 100, common.Buy, 5, 5)

	// Same attributes, but the replacement goes to the back of the queue.
	trades := b.ModifyOrder(common.Modify{ID: 1, Side: common.Buy, Price: 100, Quantity: 5})
	assert.Empty(t, trades)

	trades = b.AddOrder(common.NewOrder(common.GoodTillCancel, 3, common.Sell, 100, 5))
	require.Len(t, trades, 1)
	assert.Equal(t, common.OrderID(2), trades[0].Bid.OrderID)
}

func TestModifyOrder_PreservesOrderType(t *testing.T) {
	// Fixed clock 150ms before the cutoff, so the expiry task runs shortly.
	now := time.Date(2026, time.March, 2, 15, 59, 59, int(850*time.Millisecond), time.UTC)
	b := createTestBook(t,
		book.WithClock(func() time.Time { return now }),
		book.WithCutoff(16*time.Hour),
	)

	b.AddOrder(common.NewOrder(common.GoodForDay, 1, common.Buy, 100, 5))
	b.ModifyOrder(common.Modify{ID: 1, Side: common.Buy, Price: 101, Quantity: 8})

	require.Equal(t, 1, b.Size())
	assert.Equal(t, []common.LevelInfo{level(101, 8)}, b.GetOrderInfos().Bids)

	// Still good-for-day: the replacement is purged at the cutoff.
	assert.Eventually(t, func() bool { return b.Size() == 0 }, 2*time.Second, 25*time.Millisecond,
		"modified good-for-day order should still expire at the cutoff")
	assert.Empty(t, b.GetOrderInfos().Bids)
}

func TestModifyOrder_CanTriggerMatch(t *testing.T) {
	b := createTestBook(t)

	placeTestOrders(b, 1, 100, common.Sell, 10)
	b.AddOrder(common.NewOrder(common.GoodTillCancel, 2, common.Buy, 99, 10))

	trades := b.ModifyOrder(common.Modify{ID: 2, Side: common.Buy, Price: 100, Quantity: 10})
	require.Len(t, trades, 1)
	assert.Equal(t, common.Quantity(10), trades[0].Bid.Quantity)
	assert.Equal(t, 0, b.Size())
}

// --- Snapshot ---------------------------------------------------------------

func TestGetOrderInfos_OrderingAndAggregation(t *testing.T) {
	b := createTestBook(t)

	placeTestOrders(b, 1, 99, common.Buy, 100, 90, 80)
	placeTestOrders(b, 4, 98, common.Buy, 50)
	placeTestOrders(b, 5, 100, common.Sell, 100, 90)
	placeTestOrders(b, 7, 101, common.Sell, 20)

	depth := b.GetOrderInfos()
	assert.Equal(t, []common.LevelInfo{level(99, 270), level(98, 50)}, depth.Bids,
		"Bids should be sorted High -> Low")
	assert.Equal(t, []common.LevelInfo{level(100, 190), level(101, 20)}, depth.Asks,
		"Asks should be sorted Low -> High")
}

func TestGetOrderInfos_SnapshotIsACopy(t *testing.T) {
	b := createTestBook(t)

	placeTestOrders(b, 1, 100, common.Buy, 10)
	depth := b.GetOrderInfos()
	depth.Bids[0].Quantity = 0

	assert.Equal(t, []common.LevelInfo{level(100, 10)}, b.GetOrderInfos().Bids)
}

// --- Book-wide invariants ---------------------------------------------------

func TestBookNeverStaysCrossed(t *testing.T) {
	b := createTestBook(t)

	placeTestOrders(b, 1, 100, common.Buy, 10)
	placeTestOrders(b, 2, 102, common.Sell, 10)
	b.AddOrder(common.NewOrder(common.GoodTillCancel, 3, common.Buy, 103, 5))
	b.AddOrder(common.NewOrder(common.GoodTillCancel, 4, common.Sell, 99, 2))

	depth := b.GetOrderInfos()
	if len(depth.Bids) > 0 && len(depth.Asks) > 0 {
		assert.Less(t, depth.Bids[0].Price, depth.Asks[0].Price)
	}
}

func TestTradeConservation(t *testing.T) {
	b := createTestBook(t)

	placeTestOrders(b, 1, 100, common.Sell, 7, 5, 9)
	trades := b.AddOrder(common.NewOrder(common.GoodTillCancel, 4, common.Buy, 100, 12))

	var total common.Quantity
	for _, trade := range trades {
		assert.Equal(t, trade.Bid.Quantity, trade.Ask.Quantity)
		total += trade.Bid.Quantity
	}
	assert.Equal(t, common.Quantity(12), total)

	// Residual ask liquidity is the placed total minus the executed total.
	assert.Equal(t, []common.LevelInfo{level(100, 9)}, b.GetOrderInfos().Asks)
}
