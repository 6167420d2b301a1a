package arbitrage

import (
	"time"

	"arbreferee/internal/exchange"
	"arbreferee/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Funding directions.
const (
	ShortPerpLongSpot = "short_perp_long_spot"
	LongPerpShortSpot = "long_perp_short_spot"
)

var (
	fundingMinRatePct   = decimal.RequireFromString("0.01")
	fundingRoundTripFee = decimal.RequireFromString("0.1")
	fundingLegFee       = decimal.RequireFromString("0.05")
	fundingSlippage     = decimal.RequireFromString("0.02")
	fundingRisk         = decimal.RequireFromString("0.3")
	fundingMaxVolume    = decimal.NewFromInt(10)
	fundingVolume       = decimal.NewFromInt(1)
	basisWeight         = decimal.RequireFromString("0.5")
)

// FundingIntervalsPerDay is the usual eight-hour funding schedule.
const FundingIntervalsPerDay = 3

// FundingDetector finds spot/perpetual positions that collect the funding
// payment: short the perpetual when funding is positive, long it when negative.
type FundingDetector struct {
	now func() time.Time
}

func NewFundingDetector() *FundingDetector {
	return &FundingDetector{now: time.Now}
}

// Scan returns an opportunity when the funding rate, net of half the basis
// and round-trip fees, still clears the minimum rate before the next funding.
func (f *FundingDetector) Scan(fr exchange.FundingRate) (model.Opportunity, bool) {
	ratePct := fr.Rate.Mul(hundred)
	if ratePct.Abs().LessThan(fundingMinRatePct) || !fr.SpotPrice.IsPositive() {
		return model.Opportunity{}, false
	}

	now := f.now()
	untilFunding := fr.NextFundingAt.Sub(now)
	if untilFunding < 0 {
		return model.Opportunity{}, false
	}

	basisPct := fr.PerpPrice.Sub(fr.SpotPrice).Div(fr.SpotPrice).Mul(hundred)
	net := ratePct.Abs().Sub(basisPct.Abs().Mul(basisWeight)).Sub(fundingRoundTripFee)
	if net.LessThan(fundingMinRatePct) {
		return model.Opportunity{}, false
	}

	spot, perp := fr.Exchange+":spot", fr.Exchange+":perpetual"
	buyExchange, sellExchange := spot, perp
	buyPrice, sellPrice := fr.SpotPrice, fr.PerpPrice
	if fr.Rate.IsNegative() {
		buyExchange, sellExchange = perp, spot
		buyPrice, sellPrice = fr.PerpPrice, fr.SpotPrice
	}

	return model.Opportunity{
		ID:                       uuid.NewString(),
		Type:                     model.TypeFundingRate,
		Status:                   model.OpportunityDetected,
		BuyExchange:              buyExchange,
		SellExchange:             sellExchange,
		Symbol:                   fr.Symbol,
		BuyPrice:                 buyPrice,
		SellPrice:                sellPrice,
		MaxVolume:                fundingMaxVolume,
		RecommendedVolume:        fundingVolume,
		GrossProfitPercent:       ratePct.Abs(),
		NetProfitPercent:         net,
		EstimatedProfitUSD:       net.Mul(fr.SpotPrice).Div(hundred),
		BuyFeePercent:            fundingLegFee,
		SellFeePercent:           fundingLegFee,
		TransferFee:              decimal.Zero,
		EstimatedSlippagePercent: fundingSlippage,
		DetectedAt:               now,
		ExpiresAt:                fr.NextFundingAt,
		WindowMS:                 untilFunding.Milliseconds(),
		OrderbookDepthOK:         true,
		LiquidityOK:              true,
		RiskScore:                fundingRisk,
	}, true
}

// Direction reports which side of the perpetual collects funding at rate.
func Direction(rate decimal.Decimal) string {
	if rate.IsNegative() {
		return LongPerpShortSpot
	}
	return ShortPerpLongSpot
}

// DailyReturn is the percent earned per day at rate per funding interval.
func DailyReturn(rate decimal.Decimal, intervalsPerDay int) decimal.Decimal {
	return rate.Mul(hundred).Mul(decimal.NewFromInt(int64(intervalsPerDay)))
}

// AnnualizedReturn is DailyReturn over 365 days, without compounding.
func AnnualizedReturn(rate decimal.Decimal, intervalsPerDay int) decimal.Decimal {
	return DailyReturn(rate, intervalsPerDay).Mul(decimal.NewFromInt(365))
}

// BasisRisk scores the chance the basis moves against the position, in [0,1].
func BasisRisk(spot, perp, basisVolatility decimal.Decimal) decimal.Decimal {
	if spot.IsZero() {
		return one
	}
	basis := perp.Sub(spot).Div(spot).Abs()
	return clampUnit(basis.Mul(decimal.NewFromInt(10)).Add(basisVolatility.Mul(decimal.NewFromInt(5))))
}
