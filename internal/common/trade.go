package common

import "fmt"

// TradeInfo is one party's view of an execution, priced at that party's own
// resting price.
type TradeInfo struct {
	OrderID  OrderID
	Price    Price
	Quantity Quantity
}

// Trade records one execution between a bid and an ask. The two sides carry
// the same quantity; their prices differ whenever the incoming order's price
// (a limit, or a promoted market order's assigned price) is better than the
// level it crossed.
type Trade struct {
	Bid TradeInfo
	Ask TradeInfo
}

type Trades []Trade

func (t Trade) String() string {
	return fmt.Sprintf("trade %d: bid %d@%d / ask %d@%d",
		t.Bid.Quantity, t.Bid.OrderID, t.Bid.Price, t.Ask.OrderID, t.Ask.Price)
}

// TotalQuantity sums the executed quantity across all trades.
func (ts Trades) TotalQuantity() Quantity {
	var total Quantity
	for _, t := range ts {
		total += t.Bid.Quantity
	}
	return total
}
