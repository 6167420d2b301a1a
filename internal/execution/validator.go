package execution

import (
	"fmt"
	"log/slog"
	"time"

	"arbreferee/internal/config"
	"arbreferee/internal/model"

	"github.com/shopspring/decimal"
)

const depthLevels = 10

var (
	one     = decimal.NewFromInt(1)
	two     = decimal.NewFromInt(2)
	half    = decimal.RequireFromString("0.5")
	hundred = decimal.NewFromInt(100)
)

// Validator decides whether a paper order would have filled against a book.
type Validator struct {
	logger            *slog.Logger
	minFillRatio      decimal.Decimal
	maxPriceDeviation decimal.Decimal
	maxSpreadPercent  decimal.Decimal
	maxOrderbookAge   time.Duration
}

// NewValidator creates a new Validator.
func NewValidator(logger *slog.Logger, cfg config.ExecutionConfig) *Validator {
	return &Validator{
		logger:            logger,
		minFillRatio:      decimal.NewFromFloat(cfg.MinFillRatio),
		maxPriceDeviation: decimal.NewFromFloat(cfg.MaxPriceDeviation),
		maxSpreadPercent:  decimal.NewFromFloat(cfg.MaxSpreadPercent),
		maxOrderbookAge:   cfg.MaxOrderbookAge,
	}
}

// WouldHaveExecuted reports whether book holds enough volume for the order
// and its walked price stays within tolerance of the order's fill price.
// Buys fail when the book is too expensive, sells when it is too cheap.
func (v *Validator) WouldHaveExecuted(order model.Order, book model.Orderbook) bool {
	avg, available := book.ExecutablePrice(order.Side, order.RequestedVolume)
	if available.LessThan(order.RequestedVolume.Mul(v.minFillRatio)) {
		v.logger.Debug("Validator: insufficient liquidity",
			"order_id", order.ID,
			"requested", order.RequestedVolume,
			"available", available,
		)
		return false
	}

	if !order.AverageFillPrice.Valid || order.AverageFillPrice.Decimal.IsZero() {
		return true
	}
	expected := order.AverageFillPrice.Decimal

	if order.Side == model.SideBuy {
		if avg.GreaterThan(expected.Mul(one.Add(v.maxPriceDeviation))) {
			v.logger.Debug("Validator: price too high", "order_id", order.ID, "expected", expected, "actual", avg)
			return false
		}
		return true
	}
	if avg.LessThan(expected.Mul(one.Sub(v.maxPriceDeviation))) {
		v.logger.Debug("Validator: price too low", "order_id", order.ID, "expected", expected, "actual", avg)
		return false
	}
	return true
}

// ValidateDepth checks the top levels of the book can absorb volume. Depth
// under twice the volume passes with a warning.
func (v *Validator) ValidateDepth(book model.Orderbook, volume decimal.Decimal, side model.Side) (bool, string) {
	total := book.TotalVolume(side, depthLevels)
	if total.LessThan(volume) {
		return false, fmt.Sprintf("insufficient depth: %s < %s", total, volume)
	}
	if total.LessThan(volume.Mul(two)) {
		return true, "limited depth, high slippage expected"
	}
	return true, "ok"
}

// ValidateSpread rejects empty books and books wider than the configured spread.
func (v *Validator) ValidateSpread(book model.Orderbook) (bool, string) {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return false, "empty orderbook"
	}
	bestBid := book.BestBid()
	if bestBid.IsZero() {
		return false, "invalid bid price"
	}
	spreadPct := book.Spread().Div(bestBid).Mul(hundred)
	if spreadPct.GreaterThan(v.maxSpreadPercent) {
		return false, fmt.Sprintf("spread too wide: %s%% > %s%%", spreadPct.StringFixed(2), v.maxSpreadPercent)
	}
	return true, "ok"
}

// FillProbability estimates the chance the order fills, between 0 and 0.95,
// from the whole visible depth on the side the order hits.
func (v *Validator) FillProbability(order model.Order, book model.Orderbook) decimal.Decimal {
	available := book.TotalVolume(order.Side, len(book.Bids)+len(book.Asks))
	if available.IsZero() || !order.RequestedVolume.IsPositive() {
		return decimal.Zero
	}
	if available.GreaterThanOrEqual(order.RequestedVolume.Mul(two)) {
		return decimal.RequireFromString("0.95")
	}
	ratio := available.Div(order.RequestedVolume)
	if available.GreaterThanOrEqual(order.RequestedVolume) {
		return decimal.Min(decimal.RequireFromString("0.9"), ratio.Mul(half))
	}
	return ratio.Mul(half)
}

// CheckExecutionWindow reports whether the book snapshot is close enough in
// time to the order to validate it.
func (v *Validator) CheckExecutionWindow(orderAt, bookAt time.Time) bool {
	age := orderAt.Sub(bookAt)
	if age < 0 {
		age = -age
	}
	return age <= v.maxOrderbookAge
}
