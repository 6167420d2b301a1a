package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ArbitrageType classifies how an opportunity's edge arises.
type ArbitrageType string

const (
	TypeCrossExchange ArbitrageType = "cross_exchange"
	TypeTriangular    ArbitrageType = "triangular"
	TypeFundingRate   ArbitrageType = "funding_rate"
	TypeStatistical   ArbitrageType = "statistical"
)

// OpportunityStatus is the lifecycle state of a detected opportunity.
type OpportunityStatus string

const (
	OpportunityDetected   OpportunityStatus = "detected"
	OpportunityAnalyzing  OpportunityStatus = "analyzing"
	OpportunityExecutable OpportunityStatus = "executable"
	OpportunityExpired    OpportunityStatus = "expired"
	OpportunityExecuted   OpportunityStatus = "executed"
	OpportunityFailed     OpportunityStatus = "failed"
)

var opportunityTransitions = map[OpportunityStatus][]OpportunityStatus{
	OpportunityDetected:   {OpportunityAnalyzing, OpportunityExecutable, OpportunityExpired, OpportunityExecuted, OpportunityFailed},
	OpportunityAnalyzing:  {OpportunityExecutable, OpportunityExpired, OpportunityFailed},
	OpportunityExecutable: {OpportunityExecuted, OpportunityExpired, OpportunityFailed},
}

// CanTransition reports whether the status may move to next.
func (s OpportunityStatus) CanTransition(next OpportunityStatus) bool {
	for _, allowed := range opportunityTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Opportunity is a detected arbitrage edge between two venues.
type Opportunity struct {
	ID           string            `json:"id"`
	Type         ArbitrageType     `json:"type"`
	Status       OpportunityStatus `json:"status"`
	BuyExchange  string            `json:"buy_exchange"`
	SellExchange string            `json:"sell_exchange"`
	Symbol       string            `json:"symbol"`

	BuyPrice          decimal.Decimal `json:"buy_price"`
	SellPrice         decimal.Decimal `json:"sell_price"`
	MaxVolume         decimal.Decimal `json:"max_volume"`
	RecommendedVolume decimal.Decimal `json:"recommended_volume"`

	GrossProfitPercent       decimal.Decimal `json:"gross_profit_percent"`
	NetProfitPercent         decimal.Decimal `json:"net_profit_percent"`
	EstimatedProfitUSD       decimal.Decimal `json:"estimated_profit_usd"`
	BuyFeePercent            decimal.Decimal `json:"buy_fee_percent"`
	SellFeePercent           decimal.Decimal `json:"sell_fee_percent"`
	TransferFee              decimal.Decimal `json:"transfer_fee"`
	EstimatedSlippagePercent decimal.Decimal `json:"estimated_slippage_percent"`

	DetectedAt time.Time `json:"detected_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	WindowMS   int64     `json:"window_ms"`

	OrderbookDepthOK  bool  `json:"orderbook_depth_ok"`
	LiquidityOK       bool  `json:"liquidity_ok"`
	WouldHaveExecuted *bool `json:"would_have_executed"`

	RiskScore decimal.Decimal `json:"risk_score"`
}

// IsProfitable reports a positive net edge after fees and slippage.
func (o *Opportunity) IsProfitable() bool {
	return o.NetProfitPercent.IsPositive()
}

// IsValid reports whether the opportunity can still be acted on at now.
func (o *Opportunity) IsValid(now time.Time) bool {
	return now.Before(o.ExpiresAt) &&
		(o.Status == OpportunityDetected || o.Status == OpportunityExecutable) &&
		o.OrderbookDepthOK &&
		o.LiquidityOK
}

// TimeRemaining returns how long the opportunity has left, never negative.
func (o *Opportunity) TimeRemaining(now time.Time) time.Duration {
	if d := o.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// TotalFeePercent is the sum of both legs' fees.
func (o *Opportunity) TotalFeePercent() decimal.Decimal {
	return o.BuyFeePercent.Add(o.SellFeePercent)
}

// Transition moves the opportunity to next if the lifecycle allows it.
func (o *Opportunity) Transition(next OpportunityStatus) error {
	if !o.Status.CanTransition(next) {
		return fmt.Errorf("%w: opportunity %s %s -> %s", ErrInvalidTransition, o.ID, o.Status, next)
	}
	o.Status = next
	return nil
}
