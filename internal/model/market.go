package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order leg. A buy consumes asks, a sell consumes bids.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

var hundred = decimal.NewFromInt(100)

// Ticker is a best bid/ask snapshot for one symbol on one exchange.
type Ticker struct {
	Symbol    string          `json:"symbol"`
	Exchange  string          `json:"exchange"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	BidVolume decimal.Decimal `json:"bid_volume"`
	AskVolume decimal.Decimal `json:"ask_volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// Spread returns ask minus bid.
func (t Ticker) Spread() decimal.Decimal {
	return t.Ask.Sub(t.Bid)
}

// SpreadPercent returns the spread relative to the bid, or zero for a zero bid.
func (t Ticker) SpreadPercent() decimal.Decimal {
	if t.Bid.IsZero() {
		return decimal.Zero
	}
	return t.Spread().Div(t.Bid).Mul(hundred)
}

// MidPrice returns the arithmetic mean of bid and ask.
func (t Ticker) MidPrice() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// OrderbookLevel is a single price level.
type OrderbookLevel struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// Orderbook holds bids in descending and asks in ascending price order.
// Empty sides are valid and mean no liquidity.
type Orderbook struct {
	Symbol    string           `json:"symbol"`
	Exchange  string           `json:"exchange"`
	Bids      []OrderbookLevel `json:"bids"`
	Asks      []OrderbookLevel `json:"asks"`
	Timestamp time.Time        `json:"timestamp"`
}

// levels returns the side of the book an order of the given side executes against.
func (ob Orderbook) levels(side Side) []OrderbookLevel {
	if side == SideSell {
		return ob.Bids
	}
	return ob.Asks
}

// BestBid returns the highest bid, or zero when there are no bids.
func (ob Orderbook) BestBid() decimal.Decimal {
	if len(ob.Bids) == 0 {
		return decimal.Zero
	}
	return ob.Bids[0].Price
}

// BestAsk returns the lowest ask, or zero when there are no asks.
func (ob Orderbook) BestAsk() decimal.Decimal {
	if len(ob.Asks) == 0 {
		return decimal.Zero
	}
	return ob.Asks[0].Price
}

// BestPrice returns the best price an order of the given side would hit.
func (ob Orderbook) BestPrice(side Side) decimal.Decimal {
	if side == SideSell {
		return ob.BestBid()
	}
	return ob.BestAsk()
}

// Spread returns best ask minus best bid, or zero if either side is empty.
func (ob Orderbook) Spread() decimal.Decimal {
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return decimal.Zero
	}
	return ob.BestAsk().Sub(ob.BestBid())
}

// TotalVolume sums the volume of the top depth levels on the side hit by side.
func (ob Orderbook) TotalVolume(side Side, depth int) decimal.Decimal {
	levels := ob.levels(side)
	if depth < len(levels) {
		levels = levels[:depth]
	}
	total := decimal.Zero
	for _, l := range levels {
		total = total.Add(l.Volume)
	}
	return total
}

// ExecutablePrice walks the book and returns the volume-weighted average
// price and the volume actually filled. The filled volume is less than
// requested when depth runs out; both values are zero for an empty side.
func (ob Orderbook) ExecutablePrice(side Side, volume decimal.Decimal) (avgPrice, filled decimal.Decimal) {
	totalCost := decimal.Zero
	filled = decimal.Zero
	for _, level := range ob.levels(side) {
		remaining := volume.Sub(filled)
		if !remaining.IsPositive() {
			break
		}
		fill := decimal.Min(remaining, level.Volume)
		totalCost = totalCost.Add(fill.Mul(level.Price))
		filled = filled.Add(fill)
	}
	if filled.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	return totalCost.Div(filled), filled
}
