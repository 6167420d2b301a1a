package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance tracks available and locked funds for one currency.
type Balance struct {
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// Total returns available plus locked.
func (b *Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

// CanAfford reports whether the available balance covers amount.
func (b *Balance) CanAfford(amount decimal.Decimal) bool {
	return b.Available.GreaterThanOrEqual(amount)
}

// Lock moves amount from available to locked. It returns false and leaves
// the balance untouched when available funds are insufficient.
func (b *Balance) Lock(amount decimal.Decimal) bool {
	if amount.IsNegative() || !b.CanAfford(amount) {
		return false
	}
	b.Available = b.Available.Sub(amount)
	b.Locked = b.Locked.Add(amount)
	return true
}

// Unlock returns up to amount of locked funds to available.
func (b *Balance) Unlock(amount decimal.Decimal) {
	release := decimal.Min(amount, b.Locked)
	if release.IsNegative() {
		return
	}
	b.Locked = b.Locked.Sub(release)
	b.Available = b.Available.Add(release)
}

// Fill consumes up to lockedAmount of locked funds. The received side of the
// fill lands in another currency and is credited by the caller.
func (b *Balance) Fill(lockedAmount decimal.Decimal) {
	spend := decimal.Min(lockedAmount, b.Locked)
	if spend.IsNegative() {
		return
	}
	b.Locked = b.Locked.Sub(spend)
}

// Portfolio is the virtual account paper trades settle into.
type Portfolio struct {
	Balances map[string]*Balance `json:"balances"`

	TotalValueUSD   decimal.Decimal `json:"total_value_usd"`
	InitialValueUSD decimal.Decimal `json:"initial_value_usd"`

	TotalPnLUSD     decimal.Decimal `json:"total_pnl_usd"`
	TotalPnLPercent decimal.Decimal `json:"total_pnl_percent"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL   decimal.Decimal `json:"unrealized_pnl"`

	TotalTrades   int `json:"total_trades"`
	WinningTrades int `json:"winning_trades"`
	LosingTrades  int `json:"losing_trades"`

	MaxDrawdownUSD     decimal.Decimal     `json:"max_drawdown_usd"`
	MaxDrawdownPercent decimal.Decimal     `json:"max_drawdown_percent"`
	SharpeRatio        decimal.NullDecimal `json:"sharpe_ratio"`

	LastUpdated time.Time `json:"last_updated"`
}

// NewPortfolio creates a portfolio seeded with the given balances, valued at
// initialValueUSD.
func NewPortfolio(balances map[string]decimal.Decimal, initialValueUSD decimal.Decimal, now time.Time) *Portfolio {
	p := &Portfolio{
		Balances:        make(map[string]*Balance, len(balances)),
		TotalValueUSD:   initialValueUSD,
		InitialValueUSD: initialValueUSD,
		LastUpdated:     now,
	}
	for currency, amount := range balances {
		p.SetBalance(currency, amount, decimal.Zero)
	}
	return p
}

// WinRate is winning trades as a percentage of all trades, zero without trades.
func (p *Portfolio) WinRate() decimal.Decimal {
	if p.TotalTrades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(p.WinningTrades)).Div(decimal.NewFromInt(int64(p.TotalTrades))).Mul(hundred)
}

// LossRate is losing trades as a percentage of all trades, zero without trades.
func (p *Portfolio) LossRate() decimal.Decimal {
	if p.TotalTrades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(p.LosingTrades)).Div(decimal.NewFromInt(int64(p.TotalTrades))).Mul(hundred)
}

// ProfitFactor approximates gross profit over gross loss by the ratio of
// winning to losing trade counts. ok is false until both counts are non-zero.
func (p *Portfolio) ProfitFactor() (factor decimal.Decimal, ok bool) {
	if p.WinningTrades == 0 || p.LosingTrades == 0 {
		return decimal.Zero, false
	}
	return decimal.NewFromInt(int64(p.WinningTrades)).Div(decimal.NewFromInt(int64(p.LosingTrades))), true
}

// GetBalance returns the balance for currency, creating an empty one if needed.
func (p *Portfolio) GetBalance(currency string) *Balance {
	if p.Balances == nil {
		p.Balances = make(map[string]*Balance)
	}
	b, ok := p.Balances[currency]
	if !ok {
		b = &Balance{Currency: currency}
		p.Balances[currency] = b
	}
	return b
}

// SetBalance replaces the balance for currency.
func (p *Portfolio) SetBalance(currency string, available, locked decimal.Decimal) {
	if p.Balances == nil {
		p.Balances = make(map[string]*Balance)
	}
	p.Balances[currency] = &Balance{Currency: currency, Available: available, Locked: locked}
}

// AddBalance credits amount to the available balance of currency.
func (p *Portfolio) AddBalance(currency string, amount decimal.Decimal) {
	b := p.GetBalance(currency)
	b.Available = b.Available.Add(amount)
}

// SubtractBalance debits amount from available funds. It returns false and
// changes nothing if the balance cannot cover it.
func (p *Portfolio) SubtractBalance(currency string, amount decimal.Decimal) bool {
	b := p.GetBalance(currency)
	if !b.CanAfford(amount) {
		return false
	}
	b.Available = b.Available.Sub(amount)
	return true
}

// RecordTrade books the net profit of one completed trade. Any non-positive
// profit counts as a loss. MaxDrawdownUSD is the high-water mark of
// cumulative loss and never decreases.
func (p *Portfolio) RecordTrade(profit decimal.Decimal, at time.Time) {
	p.TotalTrades++
	p.TotalPnLUSD = p.TotalPnLUSD.Add(profit)
	p.RealizedPnL = p.RealizedPnL.Add(profit)
	p.TotalValueUSD = p.TotalValueUSD.Add(profit)

	if profit.IsPositive() {
		p.WinningTrades++
	} else {
		p.LosingTrades++
	}

	if p.InitialValueUSD.IsPositive() {
		p.TotalPnLPercent = p.TotalPnLUSD.Div(p.InitialValueUSD).Mul(hundred)
	}

	if p.TotalPnLUSD.IsNegative() {
		drawdown := p.TotalPnLUSD.Abs()
		if drawdown.GreaterThan(p.MaxDrawdownUSD) {
			p.MaxDrawdownUSD = drawdown
			if p.InitialValueUSD.IsPositive() {
				p.MaxDrawdownPercent = drawdown.Div(p.InitialValueUSD).Mul(hundred)
			}
		}
	}

	p.LastUpdated = at
}

// Snapshot returns a deep copy safe to hand to other goroutines.
func (p *Portfolio) Snapshot() Portfolio {
	cp := *p
	cp.Balances = make(map[string]*Balance, len(p.Balances))
	for k, b := range p.Balances {
		bc := *b
		cp.Balances[k] = &bc
	}
	return cp
}
