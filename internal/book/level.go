package book

import (
	"container/list"

	"mimir/internal/common"
)

// priceLevel is one side's FIFO queue at a single price. Arrival order is
// queue order; the index holds list elements so removal is O(1).
type priceLevel struct {
	price  common.Price
	orders *list.List // of *common.Order
}

func newPriceLevel(price common.Price) *priceLevel {
	return &priceLevel{price: price, orders: list.New()}
}

func (l *priceLevel) totalQuantity() common.Quantity {
	var total common.Quantity
	for e := l.orders.Front(); e != nil; e = e.Next() {
		total += e.Value.(*common.Order).Remaining()
	}
	return total
}

// levelData aggregates resting quantity and order count per price,
// irrespective of side. Bids and asks never share a price in an uncrossed
// book, so keying by price alone is unambiguous. Only the fill-or-kill
// pre-check reads these.
type levelData struct {
	quantity common.Quantity
	count    common.Quantity
}

type levelAction int

const (
	levelAdd levelAction = iota
	levelRemove
	levelMatch
)

func (b *Book) updateLevelData(price common.Price, quantity common.Quantity, action levelAction) {
	data, ok := b.levels[price]
	if !ok {
		data = &levelData{}
		b.levels[price] = data
	}

	switch action {
	case levelAdd:
		data.count++
		data.quantity += quantity
	case levelRemove:
		data.count--
		data.quantity -= quantity
	case levelMatch:
		data.quantity -= quantity
	}

	if data.count == 0 {
		delete(b.levels, price)
	}
}
