package domain

import (
	"github.com/shopspring/decimal"
)

// PriceLevel is one resting level of an order book.
// The price is kept as an exact decimal so levels keyed by their price
// string never collide through float drift.
type PriceLevel struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// Notional returns price * amount.
func (l PriceLevel) Notional() decimal.Decimal {
	return l.Price.Mul(l.Amount)
}

// ReferencePrice is the depth-weighted average price needed to fill a fixed
// target notional walking the book from the best price outward.
// Last-write-wins; consumers always read the latest value.
type ReferencePrice struct {
	Side            Side
	WeightedAverage decimal.Decimal
}

// IsZero reports whether no reference price could be computed (empty book).
func (r ReferencePrice) IsZero() bool {
	return r.WeightedAverage.IsZero()
}
