package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderType is market or limit.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// TradeMode distinguishes simulated from real execution.
type TradeMode string

const (
	ModePaper TradeMode = "paper"
	ModeLive  TradeMode = "live"
)

// OrderStatus is the lifecycle state of one order leg.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderOpen      OrderStatus = "open"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderFailed    OrderStatus = "failed"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending: {OrderOpen, OrderFilled, OrderCancelled, OrderFailed},
	OrderOpen:    {OrderFilled, OrderCancelled, OrderFailed},
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderFailed
}

// CanTransition reports whether the status may move to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TradeStatus is the lifecycle state of a two-legged trade.
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeCompleted TradeStatus = "completed"
	TradeFailed    TradeStatus = "failed"
)

// IsTerminal reports whether the trade has finished.
func (s TradeStatus) IsTerminal() bool {
	return s == TradeCompleted || s == TradeFailed
}

// CanTransition reports whether the status may move to next.
func (s TradeStatus) CanTransition(next TradeStatus) bool {
	return s == TradePending && next.IsTerminal()
}

// Order is one leg of a trade.
type Order struct {
	ID                 string              `json:"id"`
	OpportunityID      string              `json:"opportunity_id"`
	Exchange           string              `json:"exchange"`
	Symbol             string              `json:"symbol"`
	Side               Side                `json:"side"`
	Type               OrderType           `json:"type"`
	RequestedVolume    decimal.Decimal     `json:"requested_volume"`
	FilledVolume       decimal.Decimal     `json:"filled_volume"`
	RequestedPrice     decimal.NullDecimal `json:"requested_price"`
	AverageFillPrice   decimal.NullDecimal `json:"average_fill_price"`
	Status             OrderStatus         `json:"status"`
	Mode               TradeMode           `json:"mode"`
	FeePaid            decimal.Decimal     `json:"fee_paid"`
	FeeCurrency        string              `json:"fee_currency"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	FilledAt           *time.Time          `json:"filled_at"`
	WouldHaveExecuted  bool                `json:"would_have_executed"`
	SimulatedSlippage  decimal.Decimal     `json:"simulated_slippage"`
	ExecutionLatencyMS int64               `json:"execution_latency_ms"`
}

// Transition moves the order to next and stamps UpdatedAt (and FilledAt on fill).
func (o *Order) Transition(next OrderStatus, at time.Time) error {
	if !o.Status.CanTransition(next) {
		return fmt.Errorf("%w: order %s %s -> %s", ErrInvalidTransition, o.ID, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = at
	if next == OrderFilled {
		o.FilledAt = &at
	}
	return nil
}

// IsFilled reports whether the order reached the filled state.
func (o *Order) IsFilled() bool {
	return o.Status == OrderFilled
}

// FillPercent returns filled volume as a percentage of requested volume.
func (o *Order) FillPercent() decimal.Decimal {
	if o.RequestedVolume.IsZero() {
		return decimal.Zero
	}
	return o.FilledVolume.Div(o.RequestedVolume).Mul(hundred)
}

// TotalCost is filled notional plus fees, zero without a fill price.
func (o *Order) TotalCost() decimal.Decimal {
	if !o.AverageFillPrice.Valid {
		return decimal.Zero
	}
	return o.FilledVolume.Mul(o.AverageFillPrice.Decimal).Add(o.FeePaid)
}

// Trade pairs the buy and sell legs executed for one opportunity.
type Trade struct {
	ID                          string          `json:"id"`
	OpportunityID               string          `json:"opportunity_id"`
	Type                        ArbitrageType   `json:"type"`
	Mode                        TradeMode       `json:"mode"`
	BuyOrder                    Order           `json:"buy_order"`
	SellOrder                   Order           `json:"sell_order"`
	GrossProfit                 decimal.Decimal `json:"gross_profit"`
	TotalFees                   decimal.Decimal `json:"total_fees"`
	NetProfit                   decimal.Decimal `json:"net_profit"`
	NetProfitPercent            decimal.Decimal `json:"net_profit_percent"`
	Status                      TradeStatus     `json:"status"`
	ErrorMessage                string          `json:"error_message,omitempty"`
	StartedAt                   time.Time       `json:"started_at"`
	CompletedAt                 *time.Time      `json:"completed_at"`
	TotalExecutionMS            int64           `json:"total_execution_ms"`
	BothOrdersWouldHaveExecuted bool            `json:"both_orders_would_have_executed"`
}

// Transition moves the trade to a terminal status.
func (t *Trade) Transition(next TradeStatus, at time.Time) error {
	if !t.Status.CanTransition(next) {
		return fmt.Errorf("%w: trade %s %s -> %s", ErrInvalidTransition, t.ID, t.Status, next)
	}
	t.Status = next
	t.CompletedAt = &at
	return nil
}

// IsProfitable reports a positive net profit.
func (t *Trade) IsProfitable() bool {
	return t.NetProfit.IsPositive()
}

// IsSuccessful reports a completed trade whose legs both would have filled.
func (t *Trade) IsSuccessful() bool {
	return t.Status == TradeCompleted && t.BothOrdersWouldHaveExecuted
}
