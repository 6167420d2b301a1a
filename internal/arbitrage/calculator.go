package arbitrage

import (
	"arbreferee/internal/model"

	"github.com/shopspring/decimal"
)

var (
	one          = decimal.NewFromInt(1)
	hundred      = decimal.NewFromInt(100)
	partialFill  = decimal.NewFromInt(50)
	noLiquidity  = decimal.NewFromInt(100)
	defaultScale = RiskScale{Profit: decimal.NewFromInt(10), Slippage: decimal.NewFromInt(5), Volume: decimal.NewFromInt(10)}
)

// CrossExchangeProfit returns gross and net profit percentages and the USD
// profit of buying volume at buy.Ask and selling it at sell.Bid. Fees are
// percentages; transferFee is an absolute amount. A zero price on either
// side yields all zeros.
func CrossExchangeProfit(buy, sell model.Ticker, buyFeePct, sellFeePct, transferFee, volume decimal.Decimal) (grossPct, netPct, profitUSD decimal.Decimal) {
	if buy.Ask.IsZero() || sell.Bid.IsZero() {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}

	grossPct = sell.Bid.Sub(buy.Ask).Div(buy.Ask).Mul(hundred)
	netPct = grossPct.Sub(buyFeePct.Add(sellFeePct))

	revenue := volume.Mul(sell.Bid).Mul(one.Sub(sellFeePct.Div(hundred)))
	cost := volume.Mul(buy.Ask).Mul(one.Add(buyFeePct.Div(hundred)))
	profitUSD = revenue.Sub(cost).Sub(transferFee)
	return grossPct, netPct, profitUSD
}

// MaxExecutableVolume matches buyBook asks against sellBook bids level by
// level and returns the volume that can be traded while the spread between
// the current levels still covers fees plus minProfitPct.
func MaxExecutableVolume(buyBook, sellBook model.Orderbook, minProfitPct, buyFeePct, sellFeePct decimal.Decimal) decimal.Decimal {
	required := buyFeePct.Add(sellFeePct).Add(minProfitPct)
	asks, bids := buyBook.Asks, sellBook.Bids

	total := decimal.Zero
	buyFilled, sellFilled := decimal.Zero, decimal.Zero
	i, j := 0, 0
	for i < len(asks) && j < len(bids) {
		ask, bid := asks[i], bids[j]
		if ask.Price.IsZero() {
			break
		}
		spread := bid.Price.Sub(ask.Price).Div(ask.Price).Mul(hundred)
		if spread.LessThan(required) {
			break
		}

		buyAvail := ask.Volume.Sub(buyFilled)
		sellAvail := bid.Volume.Sub(sellFilled)
		trade := decimal.Min(buyAvail, sellAvail)
		total = total.Add(trade)

		if buyAvail.LessThanOrEqual(sellAvail) {
			i++
			buyFilled = decimal.Zero
			sellFilled = sellFilled.Add(trade)
		} else {
			j++
			sellFilled = decimal.Zero
			buyFilled = buyFilled.Add(trade)
		}
	}
	return total
}

// EstimateSlippage returns the expected slippage percent of a market order
// of volume against book. An empty side gives 100 and a partial fill 50.
func EstimateSlippage(book model.Orderbook, side model.Side, volume decimal.Decimal) decimal.Decimal {
	if !volume.IsPositive() {
		return decimal.Zero
	}
	avg, filled := book.ExecutablePrice(side, volume)
	if filled.IsZero() {
		return noLiquidity
	}
	if filled.LessThan(volume) {
		return partialFill
	}
	best := book.BestPrice(side)
	if best.IsZero() {
		return decimal.Zero
	}
	return avg.Sub(best).Abs().Div(best).Mul(hundred)
}

// TriangularProfit compounds a unit through A->B->C->A and A->C->B->A with
// feePct charged on every leg. It returns the better cycle's profit percent
// and whether that cycle is the forward one.
func TriangularProfit(priceAB, priceBC, priceCA, feePct decimal.Decimal) (profitPct decimal.Decimal, forward bool) {
	if priceAB.IsZero() || priceBC.IsZero() || priceCA.IsZero() {
		return decimal.Zero, false
	}
	keep := one.Sub(feePct.Div(hundred))

	fwd := one.Div(priceAB).Mul(keep).
		Mul(one.Div(priceBC)).Mul(keep).
		Mul(priceCA).Mul(keep)
	rev := one.Div(priceCA).Mul(keep).
		Mul(priceBC).Mul(keep).
		Mul(priceAB).Mul(keep)

	fwdPct := fwd.Sub(one).Mul(hundred)
	revPct := rev.Sub(one).Mul(hundred)
	if fwdPct.GreaterThan(revPct) {
		return fwdPct, true
	}
	return revPct, false
}

// EffectiveRate subtracts fee and slippage percentages from rate.
func EffectiveRate(rate, feePct, slippagePct decimal.Decimal) decimal.Decimal {
	return rate.Sub(feePct).Sub(slippagePct)
}

// RiskWeights weights the profit, slippage and volume factors of a risk score.
type RiskWeights struct {
	Profit   decimal.Decimal
	Slippage decimal.Decimal
	Volume   decimal.Decimal
}

// RiskScale normalises the raw inputs of each factor.
type RiskScale struct {
	Profit   decimal.Decimal
	Slippage decimal.Decimal
	Volume   decimal.Decimal
}

// RiskScorer turns profit, slippage and volume into a score in [0,1] where
// higher means riskier.
type RiskScorer struct {
	Weights RiskWeights
	Scale   RiskScale
}

// DefaultRiskScorer weights profit 0.3, slippage 0.4 and volume 0.3.
func DefaultRiskScorer() RiskScorer {
	return RiskScorer{
		Weights: RiskWeights{
			Profit:   decimal.RequireFromString("0.3"),
			Slippage: decimal.RequireFromString("0.4"),
			Volume:   decimal.RequireFromString("0.3"),
		},
		Scale: defaultScale,
	}
}

// Score returns the weighted risk. Small profit, large slippage and small
// volume all push the score up.
func (s RiskScorer) Score(profitPct, slippagePct, volume decimal.Decimal) decimal.Decimal {
	profitFactor := clampUnit(one.Sub(safeDiv(profitPct, s.Scale.Profit)))
	slipFactor := clampUnit(safeDiv(slippagePct, s.Scale.Slippage))
	volFactor := clampUnit(one.Sub(safeDiv(volume, s.Scale.Volume)))

	score := s.Weights.Profit.Mul(profitFactor).
		Add(s.Weights.Slippage.Mul(slipFactor)).
		Add(s.Weights.Volume.Mul(volFactor))
	return clampUnit(score)
}

func clampUnit(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	if v.GreaterThan(one) {
		return one
	}
	return v
}

func safeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}
