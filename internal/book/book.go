// Package book implements a price/time-priority limit order book for a
// single instrument: dual btree price ladders, per-price FIFO queues, an
// order-id index for O(1) cancels, per-price aggregates backing the
// fill-or-kill pre-check, and a background task that purges good-for-day
// orders at the daily cutoff.
package book

import (
	"container/list"
	"sync"
	"time"

	"github.com/tidwall/btree"
	tomb "gopkg.in/tomb.v2"

	"mimir/internal/common"
	"mimir/internal/metrics"
)

type ladder = btree.BTreeG[*priceLevel]

// orderEntry ties an indexed order to its exact queue position.
type orderEntry struct {
	order *common.Order
	level *priceLevel
	elem  *list.Element
}

type Book struct {
	mu sync.Mutex

	bids *ladder // sorted greatest price first
	asks *ladder // sorted least price first

	orders map[common.OrderID]*orderEntry
	levels map[common.Price]*levelData

	clock  func() time.Time
	cutoff time.Duration // time of day for the good-for-day purge
	met    *metrics.BookMetrics

	lifetime tomb.Tomb
}

type Option func(*Book)

// WithCutoff sets the local time of day at which good-for-day orders are
// purged.
func WithCutoff(cutoff time.Duration) Option {
	return func(b *Book) { b.cutoff = cutoff }
}

// WithClock replaces the wall clock consulted by the expiry task.
func WithClock(clock func() time.Time) Option {
	return func(b *Book) { b.clock = clock }
}

func WithMetrics(met *metrics.BookMetrics) Option {
	return func(b *Book) { b.met = met }
}

// New creates an empty book and starts its expiry task. Close must be
// called to stop the task.
func New(opts ...Option) *Book {
	book := &Book{
		bids: btree.NewBTreeG(func(a, b *priceLevel) bool {
			return a.price > b.price
		}),
		asks: btree.NewBTreeG(func(a, b *priceLevel) bool {
			return a.price < b.price
		}),
		orders: make(map[common.OrderID]*orderEntry),
		levels: make(map[common.Price]*levelData),
		clock:  time.Now,
		cutoff: 16 * time.Hour,
	}
	for _, opt := range opts {
		opt(book)
	}

	book.lifetime.Go(book.pruneGoodForDay)
	return book
}

// Close stops the expiry task and waits for it to exit. Callers must be
// quiesced first; no operation may be submitted after Close begins.
func (b *Book) Close() error {
	b.lifetime.Kill(nil)
	return b.lifetime.Wait()
}

// AddOrder admits an order and returns the trades produced by it. A
// rejected order (duplicate id, infeasible conditional, market order
// against an empty opposite side) leaves the book unchanged and returns no
// trades.
func (b *Book) AddOrder(order *common.Order) common.Trades {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addOrder(order)
}

func (b *Book) addOrder(order *common.Order) common.Trades {
	if _, ok := b.orders[order.ID()]; ok {
		b.rejected()
		return nil
	}

	// Market orders cross every resting opposite level: price them at the
	// worst opposite price and rest any residual there as good-till-cancel.
	if order.Type() == common.Market {
		var worst *priceLevel
		var ok bool
		if order.Side() == common.Buy {
			worst, ok = b.asks.Max()
		} else {
			worst, ok = b.bids.Max()
		}
		if !ok {
			b.rejected()
			return nil
		}
		if err := order.ToGoodTillCancel(worst.price); err != nil {
			panic(err)
		}
	}

	if order.Type() == common.FillAndKill && !b.canMatch(order.Side(), order.Price()) {
		b.rejected()
		return nil
	}
	if order.Type() == common.FillOrKill && !b.canFullyFill(order.Side(), order.Price(), order.Initial()) {
		b.rejected()
		return nil
	}

	b.insert(order)
	trades := b.matchOrders()

	// A fill-and-kill that crossed but ran out of opposite liquidity must
	// not stay resting.
	if order.Type() == common.FillAndKill && !order.IsFilled() {
		if _, ok := b.orders[order.ID()]; ok {
			b.cancelOrder(order.ID())
		}
	}

	b.accepted(trades)
	return trades
}

// CancelOrder removes a resting order. Unknown ids are ignored.
func (b *Book) CancelOrder(id common.OrderID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelOrder(id)
}

// CancelOrders removes a batch of resting orders under one lock
// acquisition.
func (b *Book) CancelOrders(ids []common.OrderID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		b.cancelOrder(id)
	}
}

func (b *Book) cancelOrder(id common.OrderID) {
	entry, ok := b.orders[id]
	if !ok {
		return
	}
	delete(b.orders, id)

	entry.level.orders.Remove(entry.elem)
	b.updateLevelData(entry.order.Price(), entry.order.Remaining(), levelRemove)
	if entry.level.orders.Len() == 0 {
		b.sideOf(entry.order.Side()).Delete(entry.level)
	}

	if b.met != nil {
		b.met.OrdersCanceled.Inc()
		b.met.RestingOrders.Set(float64(len(b.orders)))
	}
}

// ModifyOrder cancels the resting order and resubmits it with the new
// attributes, keeping the original order type. The replacement is a new
// arrival for time-priority purposes. Unknown ids are ignored.
func (b *Book) ModifyOrder(mod common.Modify) common.Trades {
	b.mu.Lock()
	entry, ok := b.orders[mod.ID]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	orderType := entry.order.Type()
	b.mu.Unlock()

	b.CancelOrder(mod.ID)
	return b.AddOrder(mod.ToOrder(orderType))
}

// Size reports the number of resting orders across both sides.
func (b *Book) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

// GetOrderInfos returns a point-in-time copy of the aggregated depth, bids
// in descending and asks in ascending price order.
func (b *Book) GetOrderInfos() common.Depth {
	b.mu.Lock()
	defer b.mu.Unlock()

	depth := common.Depth{
		Bids: make([]common.LevelInfo, 0, b.bids.Len()),
		Asks: make([]common.LevelInfo, 0, b.asks.Len()),
	}
	b.bids.Scan(func(level *priceLevel) bool {
		depth.Bids = append(depth.Bids, common.LevelInfo{
			Price:    level.price,
			Quantity: level.totalQuantity(),
		})
		return true
	})
	b.asks.Scan(func(level *priceLevel) bool {
		depth.Asks = append(depth.Asks, common.LevelInfo{
			Price:    level.price,
			Quantity: level.totalQuantity(),
		})
		return true
	})
	return depth
}

func (b *Book) sideOf(side common.Side) *ladder {
	if side == common.Buy {
		return b.bids
	}
	return b.asks
}

func (b *Book) insert(order *common.Order) {
	side := b.sideOf(order.Side())
	level, ok := side.GetMut(&priceLevel{price: order.Price()})
	if !ok {
		level = newPriceLevel(order.Price())
		side.Set(level)
	}
	elem := level.orders.PushBack(order)
	b.orders[order.ID()] = &orderEntry{order: order, level: level, elem: elem}
	b.updateLevelData(order.Price(), order.Initial(), levelAdd)
}

// canMatch reports whether an order at the given price crosses the best
// opposite level.
func (b *Book) canMatch(side common.Side, price common.Price) bool {
	if side == common.Buy {
		bestAsk, ok := b.asks.Min()
		return ok && price >= bestAsk.price
	}
	bestBid, ok := b.bids.Min()
	return ok && price <= bestBid.price
}

// canFullyFill is the fill-or-kill pre-check: does crossable liquidity at
// prices no worse than the limit total at least the requested quantity?
// The per-price aggregates are consulted instead of walking queues; the
// predicate is per-level, so iteration order does not matter.
func (b *Book) canFullyFill(side common.Side, price common.Price, quantity common.Quantity) bool {
	if !b.canMatch(side, price) {
		return false
	}

	var threshold common.Price
	if side == common.Buy {
		bestAsk, _ := b.asks.Min()
		threshold = bestAsk.price
	} else {
		bestBid, _ := b.bids.Min()
		threshold = bestBid.price
	}

	for levelPrice, data := range b.levels {
		if side == common.Buy && (levelPrice < threshold || levelPrice > price) {
			continue
		}
		if side == common.Sell && (levelPrice > threshold || levelPrice < price) {
			continue
		}
		if quantity <= data.quantity {
			return true
		}
		quantity -= data.quantity
	}
	return false
}

// matchOrders drains the cross, consuming the heads of the best bid and
// best ask queues in time priority until the book uncrosses.
func (b *Book) matchOrders() common.Trades {
	var trades common.Trades

	for {
		bestBid, ok := b.bids.MinMut()
		if !ok {
			break
		}
		bestAsk, ok := b.asks.MinMut()
		if !ok {
			break
		}
		if bestBid.price < bestAsk.price {
			break
		}

		for bestBid.orders.Len() > 0 && bestAsk.orders.Len() > 0 {
			bidElem := bestBid.orders.Front()
			askElem := bestAsk.orders.Front()
			bid := bidElem.Value.(*common.Order)
			ask := askElem.Value.(*common.Order)

			quantity := min(bid.Remaining(), ask.Remaining())
			mustFill(bid, quantity)
			mustFill(ask, quantity)

			// Each side trades at its own order price; they differ whenever
			// the incoming order's limit (or a promoted market order's
			// assigned price) is better than the level it crossed.
			trades = append(trades, common.Trade{
				Bid: common.TradeInfo{OrderID: bid.ID(), Price: bid.Price(), Quantity: quantity},
				Ask: common.TradeInfo{OrderID: ask.ID(), Price: ask.Price(), Quantity: quantity},
			})

			b.settle(bestBid, bidElem, bid, quantity)
			b.settle(bestAsk, askElem, ask, quantity)
		}
	}

	return trades
}

// settle applies one execution's bookkeeping to one side: pop a filled
// order from its queue and the index, erase the level when its queue
// empties, and keep the per-price aggregates in step.
func (b *Book) settle(level *priceLevel, elem *list.Element, order *common.Order, quantity common.Quantity) {
	if order.IsFilled() {
		level.orders.Remove(elem)
		delete(b.orders, order.ID())
		b.updateLevelData(order.Price(), quantity, levelRemove)
		if level.orders.Len() == 0 {
			b.sideOf(order.Side()).Delete(level)
		}
		return
	}
	b.updateLevelData(order.Price(), quantity, levelMatch)
}

func (b *Book) accepted(trades common.Trades) {
	if b.met == nil {
		return
	}
	b.met.OrdersAccepted.Inc()
	b.met.TradesMatched.Add(float64(len(trades)))
	b.met.VolumeMatched.Add(float64(trades.TotalQuantity()))
	b.met.RestingOrders.Set(float64(len(b.orders)))
}

func (b *Book) rejected() {
	if b.met != nil {
		b.met.OrdersRejected.Inc()
	}
}

// mustFill guards the engine's own arithmetic. A fill larger than the
// remaining quantity is a matching bug, never a caller condition.
func mustFill(order *common.Order, quantity common.Quantity) {
	if err := order.Fill(quantity); err != nil {
		panic(err)
	}
}
