package common

import (
	"errors"
	"fmt"
)

var (
	ErrOverfill       = errors.New("fill exceeds remaining quantity")
	ErrNotMarketOrder = errors.New("only market orders can be repriced")
)

// Order is the per-order state owned by the book from admission until it is
// filled, cancelled or expired. Callers hand one in and must not mutate it
// afterwards.
type Order struct {
	orderType OrderType
	id        OrderID
	side      Side
	price     Price
	initial   Quantity
	remaining Quantity
}

func NewOrder(orderType OrderType, id OrderID, side Side, price Price, quantity Quantity) *Order {
	return &Order{
		orderType: orderType,
		id:        id,
		side:      side,
		price:     price,
		initial:   quantity,
		remaining: quantity,
	}
}

// NewMarketOrder carries InvalidPrice until the book promotes it.
func NewMarketOrder(id OrderID, side Side, quantity Quantity) *Order {
	return NewOrder(Market, id, side, InvalidPrice, quantity)
}

func (o *Order) ID() OrderID         { return o.id }
func (o *Order) Side() Side          { return o.side }
func (o *Order) Price() Price        { return o.price }
func (o *Order) Type() OrderType     { return o.orderType }
func (o *Order) Initial() Quantity   { return o.initial }
func (o *Order) Remaining() Quantity { return o.remaining }
func (o *Order) Filled() Quantity    { return o.initial - o.remaining }
func (o *Order) IsFilled() bool      { return o.remaining == 0 }

// Fill decrements the remaining quantity. Asking for more than remains is a
// bug in the matching loop, not a caller-visible condition.
func (o *Order) Fill(quantity Quantity) error {
	if quantity > o.remaining {
		return fmt.Errorf("order %d: %w", o.id, ErrOverfill)
	}
	o.remaining -= quantity
	return nil
}

// ToGoodTillCancel promotes a market order onto the book at the given price.
// The transition is one-way and only valid for market orders.
func (o *Order) ToGoodTillCancel(price Price) error {
	if o.orderType != Market {
		return fmt.Errorf("order %d: %w", o.id, ErrNotMarketOrder)
	}
	o.price = price
	o.orderType = GoodTillCancel
	return nil
}

func (o *Order) String() string {
	return fmt.Sprintf("order %d %s %s %d@%d (remaining %d)",
		o.id, o.orderType, o.side, o.initial, o.price, o.remaining)
}

// Modify is a request to replace a resting order. The replacement keeps the
// original's order type and is treated as a new arrival for time priority.
type Modify struct {
	ID       OrderID
	Side     Side
	Price    Price
	Quantity Quantity
}

// ToOrder builds the replacement order submitted after the cancel.
func (m Modify) ToOrder(orderType OrderType) *Order {
	return NewOrder(orderType, m.ID, m.Side, m.Price, m.Quantity)
}
